package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/meshflow/meshflow-server/pkg/config"
	"github.com/meshflow/meshflow-server/pkg/mesh"
	"github.com/meshflow/meshflow-server/pkg/models"
	"github.com/meshflow/meshflow-server/pkg/store"
)

type testFixture struct {
	engine   *Engine
	nodes    *fakeNodeStore
	raw      *fakeRawPacketStore
	claims   *fakeClaimStore
	pos      *fakePositionStore
	dev      *fakeDeviceMetricsStore
	env      *fakeEnvironmentMetricsStore
	msgs     *fakeTextMessageStore
	notifier *fakeNotifier
	receiver *models.ManagedNode
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	nodes := newFakeNodeStore()
	f := &testFixture{
		nodes:    nodes,
		raw:      newFakeRawPacketStore(),
		claims:   newFakeClaimStore(nodes),
		pos:      &fakePositionStore{},
		dev:      &fakeDeviceMetricsStore{},
		env:      &fakeEnvironmentMetricsStore{},
		msgs:     &fakeTextMessageStore{},
		notifier: &fakeNotifier{},
		receiver: &models.ManagedNode{
			InternalID:      uuid.New(),
			NodeID:          mesh.NodeID(999999),
			OwnerID:         uuid.New(),
			ConstellationID: uuid.New(),
		},
	}
	cfg := &config.Configuration{
		Claims: config.ClaimSettings{KeyLength: 8, TTL: 30 * time.Minute},
	}
	stores := store.Stores{
		Nodes:              f.nodes,
		RawPackets:         f.raw,
		Claims:             f.claims,
		Positions:          f.pos,
		DeviceMetrics:      f.dev,
		EnvironmentMetrics: f.env,
		TextMessages:       f.msgs,
	}
	f.engine = NewEngine(cfg, stores, f.notifier, slog.New(slog.DiscardHandler))
	return f
}

func packetJSON(t *testing.T, fields map[string]any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshaling packet: %v", err)
	}
	return raw
}

func telemetryPacket(t *testing.T, from, packetID, rxTime int64) json.RawMessage {
	return packetJSON(t, map[string]any{
		"id":     packetID,
		"from":   from,
		"to":     4294967295,
		"rxTime": rxTime,
		"decoded": map[string]any{
			"portnum": "TELEMETRY_APP",
			"telemetry": map[string]any{
				"time": rxTime,
				"deviceMetrics": map[string]any{
					"batteryLevel": 87.0,
					"voltage":      3.9,
				},
			},
		},
	})
}

func TestIngestCreatesUnclaimedNode(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	results := f.engine.IngestBatch(ctx, f.receiver, []json.RawMessage{
		telemetryPacket(t, 123456, 101, 1700000000),
	})

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Status != StatusStored {
		t.Fatalf("expected stored, got %s (%s)", results[0].Status, results[0].Detail)
	}

	node, err := f.nodes.GetByNodeID(ctx, mesh.NodeID(123456))
	if err != nil {
		t.Fatalf("GetByNodeID: %v", err)
	}
	if node == nil {
		t.Fatal("sender node was not created")
	}
	if node.ClaimStatus != models.StatusUnclaimed {
		t.Errorf("new node status = %s, want unclaimed", node.ClaimStatus)
	}
	if node.LastHeard == nil || !node.LastHeard.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Errorf("last_heard not updated from rxTime: %v", node.LastHeard)
	}
	if len(f.dev.rows) != 1 {
		t.Fatalf("expected 1 device metrics row, got %d", len(f.dev.rows))
	}
	if f.dev.rows[0].NodeInternalID != node.InternalID {
		t.Error("device metrics row not linked to sender node")
	}
}

func TestIngestDuplicateSuppressed(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	pkt := telemetryPacket(t, 123456, 101, 1700000000)
	results := f.engine.IngestBatch(ctx, f.receiver, []json.RawMessage{pkt, pkt})

	if results[0].Status != StatusStored {
		t.Fatalf("first copy: got %s, want stored", results[0].Status)
	}
	if results[1].Status != StatusDuplicate {
		t.Fatalf("second copy: got %s, want duplicate", results[1].Status)
	}
	if len(f.raw.packets) != 1 {
		t.Errorf("expected 1 raw packet, got %d", len(f.raw.packets))
	}
	if len(f.dev.rows) != 1 {
		t.Errorf("duplicate produced a projection row: got %d rows", len(f.dev.rows))
	}

	// Same packet ID but a different transmission time is not a duplicate.
	results = f.engine.IngestBatch(ctx, f.receiver, []json.RawMessage{
		telemetryPacket(t, 123456, 101, 1700000300),
	})
	if results[0].Status != StatusStored {
		t.Errorf("rebroadcast at new rxTime: got %s, want stored", results[0].Status)
	}
}

func TestNodeInfoLastWriteWins(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	nodeInfo := func(packetID, rxTime int64, longName string) json.RawMessage {
		return packetJSON(t, map[string]any{
			"id":     packetID,
			"from":   555,
			"rxTime": rxTime,
			"decoded": map[string]any{
				"portnum": "NODEINFO_APP",
				"user": map[string]any{
					"id":       "!0000022b",
					"longName": longName,
					"hwModel":  "HELTEC_V3",
				},
			},
		})
	}

	// The newer packet arrives first; the older one must not overwrite it.
	results := f.engine.IngestBatch(ctx, f.receiver, []json.RawMessage{
		nodeInfo(1, 200, "Newer Name"),
		nodeInfo(2, 100, "Older Name"),
	})
	for i, res := range results {
		if res.Status != StatusStored {
			t.Fatalf("packet %d: got %s, want stored", i, res.Status)
		}
	}

	node, _ := f.nodes.GetByNodeID(ctx, mesh.NodeID(555))
	if node == nil || node.LongName == nil {
		t.Fatal("node info was not applied")
	}
	if *node.LongName != "Newer Name" {
		t.Errorf("long name = %q, want %q (stale update applied)", *node.LongName, "Newer Name")
	}
	if node.LastHeard == nil || !node.LastHeard.Equal(time.Unix(200, 0).UTC()) {
		t.Errorf("last_heard = %v, want the newest rxTime", node.LastHeard)
	}
}

func TestUnknownPortStoredRawOnly(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	results := f.engine.IngestBatch(ctx, f.receiver, []json.RawMessage{
		packetJSON(t, map[string]any{
			"id":     7,
			"from":   42,
			"rxTime": 1700000000,
			"decoded": map[string]any{
				"portnum": "TRACEROUTE_APP",
				"route":   []any{1.0, 2.0},
			},
		}),
	})

	if results[0].Status != StatusStored {
		t.Fatalf("got %s, want stored", results[0].Status)
	}
	if !results[0].Unhandled {
		t.Error("unknown portnum not flagged as unhandled")
	}
	if len(f.raw.packets) != 1 {
		t.Fatalf("expected 1 raw packet, got %d", len(f.raw.packets))
	}
	if len(f.pos.rows)+len(f.dev.rows)+len(f.env.rows)+len(f.msgs.rows) != 0 {
		t.Error("unknown portnum produced a typed projection")
	}
}

func TestMalformedPacketDoesNotAbortBatch(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	results := f.engine.IngestBatch(ctx, f.receiver, []json.RawMessage{
		packetJSON(t, map[string]any{"id": 1, "rxTime": 1700000000}), // no sender
		json.RawMessage(`{not json`),
		telemetryPacket(t, 42, 2, 1700000000),
	})

	if results[0].Status != StatusMalformed {
		t.Errorf("packet without sender: got %s, want malformed", results[0].Status)
	}
	if results[1].Status != StatusMalformed {
		t.Errorf("invalid JSON: got %s, want malformed", results[1].Status)
	}
	if results[2].Status != StatusStored {
		t.Errorf("valid packet after malformed ones: got %s, want stored", results[2].Status)
	}
	if len(f.raw.packets) != 1 {
		t.Errorf("expected only the valid packet stored, got %d", len(f.raw.packets))
	}
}

func TestPositionProjection(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	results := f.engine.IngestBatch(ctx, f.receiver, []json.RawMessage{
		packetJSON(t, map[string]any{
			"id":     11,
			"from":   77,
			"rxTime": 1700000000,
			"decoded": map[string]any{
				"portnum": "POSITION_APP",
				"position": map[string]any{
					"latitude":  47.6,
					"longitude": -122.3,
					"altitude":  55.0,
					"time":      1699999990,
				},
			},
		}),
	})
	if results[0].Status != StatusStored {
		t.Fatalf("got %s, want stored", results[0].Status)
	}

	if len(f.pos.rows) != 1 {
		t.Fatalf("expected 1 position row, got %d", len(f.pos.rows))
	}
	row := f.pos.rows[0]
	if row.Latitude == nil || *row.Latitude != 47.6 {
		t.Errorf("latitude not projected: %v", row.Latitude)
	}
	if !row.ReportedTime.Equal(time.Unix(1699999990, 0).UTC()) {
		t.Errorf("reported time should come from the payload, got %v", row.ReportedTime)
	}

	node, _ := f.nodes.GetByNodeID(ctx, mesh.NodeID(77))
	if !node.HasLocation() || *node.Latitude != 47.6 {
		t.Error("last-known position not written back to the node")
	}
}

func TestEnvironmentMetricsProjection(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	results := f.engine.IngestBatch(ctx, f.receiver, []json.RawMessage{
		packetJSON(t, map[string]any{
			"id":     15,
			"from":   88,
			"rxTime": 1700000000,
			"decoded": map[string]any{
				"portnum": "TELEMETRY_APP",
				"telemetry": map[string]any{
					"time": 1699999950,
					"environmentMetrics": map[string]any{
						"temperature":        21.5,
						"relativeHumidity":   48.0,
						"barometricPressure": 1013.2,
					},
				},
			},
		}),
	})
	if results[0].Status != StatusStored {
		t.Fatalf("got %s, want stored", results[0].Status)
	}

	if len(f.env.rows) != 1 {
		t.Fatalf("expected 1 environment row, got %d", len(f.env.rows))
	}
	if len(f.dev.rows) != 0 {
		t.Errorf("environment sample produced %d device rows", len(f.dev.rows))
	}
	row := f.env.rows[0]
	if row.Temperature == nil || *row.Temperature != 21.5 {
		t.Errorf("temperature not projected: %v", row.Temperature)
	}
	if !row.ReportedTime.Equal(time.Unix(1699999950, 0).UTC()) {
		t.Errorf("reported time should come from the payload, got %v", row.ReportedTime)
	}
}

func TestTextMessageStoredAndNotified(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	results := f.engine.IngestBatch(ctx, f.receiver, []json.RawMessage{
		packetJSON(t, map[string]any{
			"id":     21,
			"from":   300,
			"to":     4294967295,
			"rxTime": 1700000000,
			"decoded": map[string]any{
				"portnum": "TEXT_MESSAGE_APP",
				"text":    "hello mesh",
			},
		}),
	})
	if results[0].Status != StatusStored {
		t.Fatalf("got %s, want stored", results[0].Status)
	}
	if len(f.msgs.rows) != 1 {
		t.Fatalf("expected 1 message row, got %d", len(f.msgs.rows))
	}
	if f.msgs.rows[0].MessageText != "hello mesh" {
		t.Errorf("message text = %q", f.msgs.rows[0].MessageText)
	}
	if len(f.notifier.msgs) != 1 {
		t.Errorf("notifier received %d messages, want 1", len(f.notifier.msgs))
	}
}

func TestStorageFailureReportsError(t *testing.T) {
	f := newTestFixture(t)
	f.raw.failIng = true

	results := f.engine.IngestBatch(context.Background(), f.receiver, []json.RawMessage{
		telemetryPacket(t, 123456, 101, 1700000000),
	})
	if results[0].Status != StatusError {
		t.Fatalf("got %s, want error", results[0].Status)
	}
}
