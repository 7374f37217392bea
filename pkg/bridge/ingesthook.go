package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/meshflow/meshflow-server/pkg/ingest"
	"github.com/meshflow/meshflow-server/pkg/mesh"
	"github.com/meshflow/meshflow-server/pkg/models"
	"github.com/meshflow/meshflow-server/pkg/store"
)

// IngestHookOptions contains configuration settings for the hook.
type IngestHookOptions struct {
	Server      *mqtt.Server
	Storage     *store.Stores
	Engine      *ingest.Engine
	IngestTopic string
}

// IngestHook authenticates gateway connections against API keys and feeds
// everything published to the ingest topic through the ingestion engine.
type IngestHook struct {
	mqtt.HookBase
	config     *IngestHookOptions
	receivers  map[string]*models.ManagedNode
	clientLock sync.RWMutex
}

func (h *IngestHook) ID() string {
	return "ingest-hook"
}

func (h *IngestHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
		mqtt.OnDisconnect,
		mqtt.OnPublish,
	}, []byte{b})
}

func (h *IngestHook) Init(config any) error {
	h.Log.Info("initialised")
	if _, ok := config.(*IngestHookOptions); !ok && config != nil {
		return mqtt.ErrInvalidConfigType
	}

	h.config = config.(*IngestHookOptions)
	if h.config.Server == nil || h.config.Storage == nil || h.config.Engine == nil {
		return mqtt.ErrInvalidConfigType
	}

	h.receivers = make(map[string]*models.ManagedNode)

	return nil
}

// OnConnectAuthenticate admits a client when its username parses as a node
// ID and its password is an active API key linked to that node. The same
// check gates HTTP ingestion; a revoked key is rejected on the next CONNECT.
func (h *IngestHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	nodeID, err := mesh.ParseNodeID(string(pk.Connect.Username))
	if err != nil {
		h.Log.Info("client rejected, bad node id", "client", cl.ID, "username", string(pk.Connect.Username))
		return false
	}

	key, err := h.config.Storage.ApiKeys.Authenticate(ctx, string(pk.Connect.Password))
	if err != nil {
		h.Log.Error("unable to query api key", "hook", h.ID(), "client", cl.ID, "error", err)
		return false
	}
	if key == nil {
		h.Log.Info("client failed authentication check", "client", cl.ID, "remote", cl.Net.Remote)
		return false
	}

	receiver, err := h.config.Storage.ApiKeys.LinkedManagedNode(ctx, key.ID, nodeID)
	if err != nil {
		h.Log.Error("unable to query linked node", "hook", h.ID(), "client", cl.ID, "error", err)
		return false
	}
	if receiver == nil {
		h.Log.Info("client rejected, key not linked to node", "client", cl.ID, "node", nodeID.String())
		return false
	}

	h.clientLock.Lock()
	h.receivers[cl.ID] = receiver
	h.clientLock.Unlock()

	if err := h.config.Storage.ApiKeys.TouchLastUsed(ctx, key.ID, time.Now().UTC()); err != nil {
		h.Log.Warn("error updating api key last_used", "key_id", key.ID, "error", err)
	}

	h.Log.Info("gateway authenticated", "client", cl.ID, "node", nodeID.String())
	return true
}

// OnACLCheck restricts authenticated gateways to publishing on the ingest
// topic. Nothing is readable; this broker is a one-way pipe.
func (h *IngestHook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	return write && topic == h.config.IngestTopic
}

func (h *IngestHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	h.clientLock.Lock()
	delete(h.receivers, cl.ID)
	h.clientLock.Unlock()
}

// OnPublish runs the published payload through the ingestion engine. The
// payload may be a single packet object or an array of them.
func (h *IngestHook) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	if pk.TopicName != h.config.IngestTopic {
		return pk, nil
	}

	h.clientLock.RLock()
	receiver := h.receivers[cl.ID]
	h.clientLock.RUnlock()
	if receiver == nil {
		// Connected before the hook was installed, or state was lost.
		return pk, packets.ErrRejectPacket
	}

	batch, err := splitBatch(pk.Payload)
	if err != nil {
		h.Log.Info("discarding unparseable publish", "client", cl.ID, "error", err)
		return pk, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results := h.config.Engine.IngestBatch(ctx, receiver, batch)
	for _, res := range results {
		if res.Status == ingest.StatusError || res.Status == ingest.StatusMalformed {
			h.Log.Info("packet not stored", "client", cl.ID, "status", res.Status, "detail", res.Detail)
		}
	}

	return pk, nil
}

// splitBatch accepts either a JSON array of packets or a bare packet object.
func splitBatch(payload []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, err
		}
		return batch, nil
	}
	return []json.RawMessage{json.RawMessage(trimmed)}, nil
}
