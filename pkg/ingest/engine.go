package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meshflow/meshflow-server/pkg/config"
	"github.com/meshflow/meshflow-server/pkg/mesh"
	"github.com/meshflow/meshflow-server/pkg/models"
	"github.com/meshflow/meshflow-server/pkg/store"
)

// Status is the per-packet outcome reported back to the relay. A batch
// never fails as a whole; each packet gets its own entry.
type Status string

const (
	StatusStored    Status = "stored"
	StatusDuplicate Status = "duplicate"
	StatusMalformed Status = "malformed"
	StatusError     Status = "error"
)

// PacketResult is one entry in the ingestion response array.
type PacketResult struct {
	Index     int        `json:"index"`
	PacketID  int64      `json:"packet_id,omitempty"`
	Status    Status     `json:"status"`
	Portnum   string     `json:"portnum,omitempty"`
	Unhandled bool       `json:"unhandled_port,omitempty"`
	Claim     EvalResult `json:"claim,omitempty"`
	Detail    string     `json:"detail,omitempty"`
}

// Notifier receives stored text messages for live fan-out. Implemented by
// the SSE layer; a nil notifier disables it.
type Notifier interface {
	NotifyTextMessage(msg *models.TextMessage)
}

// Engine is the packet ingestion pipeline: resolve the sender, append the
// raw packet (dedup), project the typed record, and hand text messages to
// the claim manager.
type Engine struct {
	stores   store.Stores
	claims   *ClaimManager
	notifier Notifier
	log      *slog.Logger
}

// NewEngine builds the pipeline over the given stores.
func NewEngine(cfg *config.Configuration, stores store.Stores, notifier Notifier, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		stores:   stores,
		claims:   NewClaimManager(cfg.Claims, stores.Nodes, stores.Claims, log),
		notifier: notifier,
		log:      log,
	}
}

// Claims exposes the claim manager for the claim endpoints.
func (e *Engine) Claims() *ClaimManager {
	return e.claims
}

// IngestBatch processes a batch of decoded packets relayed by receiver.
// Packets are independent: a malformed or failing packet never aborts the
// ones after it.
func (e *Engine) IngestBatch(ctx context.Context, receiver *models.ManagedNode, batch []json.RawMessage) []PacketResult {
	results := make([]PacketResult, 0, len(batch))
	for i, raw := range batch {
		res := e.ingestOne(ctx, receiver, raw)
		res.Index = i
		results = append(results, res)
	}
	return results
}

func (e *Engine) ingestOne(ctx context.Context, receiver *models.ManagedNode, raw json.RawMessage) PacketResult {
	env, err := ParseEnvelope(raw)
	if err != nil {
		e.log.Warn("rejecting malformed packet", "receiver", receiver.NodeID.String(), "error", err)
		return PacketResult{Status: StatusMalformed, Detail: err.Error()}
	}

	res := PacketResult{PacketID: env.PacketID, Portnum: env.Portnum()}

	node, err := e.stores.Nodes.Resolve(ctx, env.Sender())
	if err != nil {
		e.log.Error("resolving sender node", "from", env.Sender().String(), "error", err)
		res.Status = StatusError
		res.Detail = "resolving sender"
		return res
	}

	stored, err := e.stores.RawPackets.AppendIfNew(ctx, e.rawPacket(env, receiver))
	if err != nil {
		e.log.Error("appending raw packet", "packet_id", env.PacketID, "error", err)
		res.Status = StatusError
		res.Detail = "storing packet"
		return res
	}
	if !stored {
		// Retransmit of a packet we already processed; suppress every
		// downstream effect, including claim evaluation.
		res.Status = StatusDuplicate
		return res
	}
	res.Status = StatusStored

	if err := e.stores.Nodes.TouchLastHeard(ctx, node.NodeID, env.ReceivedAt()); err != nil {
		e.log.Warn("updating last_heard", "node_id", node.NodeID.String(), "error", err)
	}

	switch env.Portnum() {
	case mesh.PortNodeInfo:
		err = e.handleNodeInfo(ctx, env)
	case mesh.PortPosition:
		err = e.handlePosition(ctx, node, env)
	case mesh.PortTelemetry:
		err = e.handleTelemetry(ctx, node, env)
	case mesh.PortTextMessage:
		res.Claim, err = e.handleTextMessage(ctx, node, env)
	default:
		// Unknown ports are stored raw and otherwise ignored; new packet
		// types must not break existing relays.
		res.Unhandled = true
	}
	if err != nil {
		e.log.Error("projecting packet", "packet_id", env.PacketID, "portnum", env.Portnum(), "error", err)
		res.Status = StatusError
		res.Detail = "projecting packet"
	}
	return res
}

func (e *Engine) rawPacket(env *Envelope, receiver *models.ManagedNode) *models.RawPacket {
	decoded, _ := json.Marshal(env.Decoded)
	portnum := env.Portnum()
	pkt := &models.RawPacket{
		ID:           uuid.New(),
		PacketID:     env.PacketID,
		FromInt:      env.Sender(),
		FromStr:      env.Sender().String(),
		Channel:      env.Channel,
		DecodedData:  decoded,
		HopLimit:     env.HopLimit,
		HopStart:     env.HopStart,
		RxTime:       env.ReceivedAt(),
		RxRssi:       env.RxRssi,
		RxSnr:        env.RxSnr,
		RelayNode:    env.RelayNode,
		Priority:     env.Priority,
		PkiEncrypted: env.PkiEncrypted,
		LoggedTime:   time.Now().UTC(),
	}
	if portnum != "" {
		pkt.Portnum = &portnum
	}
	if to := env.Recipient(); to != nil {
		pkt.ToInt = to
		s := to.String()
		pkt.ToStr = &s
	}
	if receiver != nil {
		pkt.ReceiverID = &receiver.InternalID
	}
	return pkt
}

// handleNodeInfo updates the sender's display and hardware metadata. No
// typed projection row; freshness ordering is enforced by the store using
// the packet receive time.
func (e *Engine) handleNodeInfo(ctx context.Context, env *Envelope) error {
	var user UserPayload
	if err := env.decodePayload("user", &user); err != nil {
		return err
	}
	return e.stores.Nodes.ApplyNodeInfo(ctx, env.Sender(), store.NodeInfoUpdate{
		ShortName: user.ShortName,
		LongName:  user.LongName,
		MacAddr:   user.Macaddr,
		HwModel:   user.HwModel,
		SwVersion: user.SwVersion,
		Role:      user.Role,
		PublicKey: user.PublicKey,
		RxTime:    env.ReceivedAt(),
	})
}

func (e *Engine) handlePosition(ctx context.Context, node *models.Node, env *Envelope) error {
	var pos PositionPayload
	if err := env.decodePayload("position", &pos); err != nil {
		return err
	}

	reported := env.ReceivedAt()
	if pos.Time != nil && *pos.Time > 0 {
		reported = time.Unix(*pos.Time, 0).UTC()
	}
	source := models.LocUnset
	if pos.LocationSource != nil {
		source = models.ParseLocationSource(*pos.LocationSource)
	}
	row := &models.Position{
		ID:             uuid.New(),
		NodeInternalID: node.InternalID,
		LoggedTime:     time.Now().UTC(),
		ReportedTime:   reported,
		Latitude:       pos.Latitude,
		Longitude:      pos.Longitude,
		Altitude:       pos.Altitude,
		Heading:        pos.Heading,
		LocationSource: source,
		PrecisionBits:  pos.PrecisionBits,
		GroundSpeed:    pos.GroundSpeed,
		GroundTrack:    pos.GroundTrack,
		SatsInView:     pos.SatsInView,
		Pdop:           pos.Pdop,
	}
	if err := e.stores.Positions.Add(ctx, row); err != nil {
		return err
	}
	return e.stores.Nodes.SetLastPosition(ctx, node.NodeID, pos.Latitude, pos.Longitude, pos.Altitude)
}

func (e *Engine) handleTelemetry(ctx context.Context, node *models.Node, env *Envelope) error {
	var tel TelemetryPayload
	if err := env.decodePayload("telemetry", &tel); err != nil {
		return err
	}

	reported := env.ReceivedAt()
	if tel.Time != nil && *tel.Time > 0 {
		reported = time.Unix(*tel.Time, 0).UTC()
	}

	switch {
	case tel.DeviceMetrics != nil:
		dm := tel.DeviceMetrics
		return e.stores.DeviceMetrics.Add(ctx, &models.DeviceMetrics{
			ID:                 uuid.New(),
			NodeInternalID:     node.InternalID,
			LoggedTime:         time.Now().UTC(),
			ReportedTime:       reported,
			BatteryLevel:       dm.BatteryLevel,
			Voltage:            dm.Voltage,
			ChannelUtilization: dm.ChannelUtilization,
			AirUtilTx:          dm.AirUtilTx,
			UptimeSeconds:      dm.UptimeSeconds,
		})
	case tel.EnvironmentMetrics != nil:
		em := tel.EnvironmentMetrics
		return e.stores.EnvironmentMetrics.Add(ctx, &models.EnvironmentMetrics{
			ID:                 uuid.New(),
			NodeInternalID:     node.InternalID,
			LoggedTime:         time.Now().UTC(),
			ReportedTime:       reported,
			Temperature:        em.Temperature,
			RelativeHumidity:   em.RelativeHumidity,
			BarometricPressure: em.BarometricPressure,
			GasResistance:      em.GasResistance,
			Iaq:                em.Iaq,
		})
	default:
		// Other telemetry variants (local stats etc.) stay raw-only.
		return nil
	}
}

func (e *Engine) handleTextMessage(ctx context.Context, node *models.Node, env *Envelope) (EvalResult, error) {
	text, err := env.textPayload()
	if err != nil {
		return EvalNoClaim, err
	}

	msg := &models.TextMessage{
		ID:             uuid.New(),
		NodeInternalID: node.InternalID,
		LoggedTime:     time.Now().UTC(),
		ReportedTime:   env.ReceivedAt(),
		RecipientID:    env.Recipient(),
		Channel:        env.Channel,
		MessageText:    text.Text,
		IsEmoji:        text.Emoji != nil && *text.Emoji != 0,
		ReplyPacketID:  text.ReplyID,
	}
	if err := e.stores.TextMessages.Add(ctx, msg); err != nil {
		return EvalNoClaim, err
	}
	if e.notifier != nil {
		e.notifier.NotifyTextMessage(msg)
	}

	// Claim keys travel as direct messages; broadcasts never prove
	// possession of a particular node's radio.
	if env.IsBroadcast() {
		return EvalNoClaim, nil
	}
	return e.claims.Evaluate(ctx, node, text.Text)
}
