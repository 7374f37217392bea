package ingest

import (
	"encoding/json"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/meshflow/meshflow-server/pkg/apperr"
	"github.com/meshflow/meshflow-server/pkg/mesh"
)

// Envelope is one decoded packet as produced by the mesh software stack.
// The payload under "decoded" is type-discriminated by its portnum and kept
// as a raw map until the router picks a typed shape for it.
type Envelope struct {
	PacketID     int64          `json:"id"`
	From         *int64         `json:"from"`
	FromID       *string        `json:"fromId"`
	To           *int64         `json:"to"`
	ToID         *string        `json:"toId"`
	Channel      *int16         `json:"channel"`
	RxTime       int64          `json:"rxTime"`
	RxSnr        *float64       `json:"rxSnr"`
	RxRssi       *float64       `json:"rxRssi"`
	HopLimit     *int16         `json:"hopLimit"`
	HopStart     *int16         `json:"hopStart"`
	RelayNode    *int64         `json:"relayNode"`
	Priority     *string        `json:"priority"`
	PkiEncrypted *bool          `json:"pkiEncrypted"`
	Decoded      map[string]any `json:"decoded"`
}

// ParseEnvelope validates one packet out of a batch. Sender ID, packet ID
// and receive time form the dedup identity and are mandatory; anything
// missing rejects this packet only, never the batch.
func ParseEnvelope(raw json.RawMessage) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidArgument, "packet is not valid JSON", err)
	}
	if env.From == nil || env.PacketID == 0 || env.RxTime == 0 {
		return nil, apperr.ErrMalformedPacket
	}
	return &env, nil
}

// Sender returns the packet's sender in integer form.
func (e *Envelope) Sender() mesh.NodeID {
	return mesh.NodeID(*e.From)
}

// Recipient returns the destination node, or nil for packets without one.
func (e *Envelope) Recipient() *mesh.NodeID {
	if e.To == nil {
		return nil
	}
	id := mesh.NodeID(*e.To)
	return &id
}

// IsBroadcast reports whether the packet was addressed to the whole mesh.
// A missing recipient is treated as direct.
func (e *Envelope) IsBroadcast() bool {
	return e.To != nil && mesh.NodeID(*e.To) == mesh.BROADCAST_ID
}

// ReceivedAt returns the receive timestamp as wall-clock time.
func (e *Envelope) ReceivedAt() time.Time {
	return time.Unix(e.RxTime, 0).UTC()
}

// Portnum returns the payload discriminator, or "" when absent.
func (e *Envelope) Portnum() string {
	if e.Decoded == nil {
		return ""
	}
	s, _ := e.Decoded["portnum"].(string)
	return s
}

// UserPayload is the "user" structure of a NODEINFO_APP packet.
type UserPayload struct {
	ID        string  `mapstructure:"id"`
	ShortName *string `mapstructure:"shortName"`
	LongName  *string `mapstructure:"longName"`
	HwModel   *string `mapstructure:"hwModel"`
	SwVersion *string `mapstructure:"swVersion"`
	PublicKey *string `mapstructure:"publicKey"`
	Macaddr   *string `mapstructure:"macaddr"`
	Role      *string `mapstructure:"role"`
}

// PositionPayload is the "position" structure of a POSITION_APP packet.
type PositionPayload struct {
	Latitude       *float64 `mapstructure:"latitude"`
	Longitude      *float64 `mapstructure:"longitude"`
	Altitude       *float64 `mapstructure:"altitude"`
	Heading        *float64 `mapstructure:"heading"`
	LocationSource *string  `mapstructure:"locationSource"`
	PrecisionBits  *int16   `mapstructure:"precisionBits"`
	Time           *int64   `mapstructure:"time"`
	GroundSpeed    *float64 `mapstructure:"groundSpeed"`
	GroundTrack    *float64 `mapstructure:"groundTrack"`
	SatsInView     *int16   `mapstructure:"satsInView"`
	Pdop           *float64 `mapstructure:"PDOP"`
}

// TelemetryPayload is the "telemetry" structure of a TELEMETRY_APP packet.
// Exactly one of the nested variants is normally present.
type TelemetryPayload struct {
	Time               *int64                     `mapstructure:"time"`
	DeviceMetrics      *DeviceMetricsPayload      `mapstructure:"deviceMetrics"`
	EnvironmentMetrics *EnvironmentMetricsPayload `mapstructure:"environmentMetrics"`
}

type DeviceMetricsPayload struct {
	BatteryLevel       *float64 `mapstructure:"batteryLevel"`
	Voltage            *float64 `mapstructure:"voltage"`
	ChannelUtilization *float64 `mapstructure:"channelUtilization"`
	AirUtilTx          *float64 `mapstructure:"airUtilTx"`
	UptimeSeconds      *int64   `mapstructure:"uptimeSeconds"`
}

type EnvironmentMetricsPayload struct {
	Temperature        *float64 `mapstructure:"temperature"`
	RelativeHumidity   *float64 `mapstructure:"relativeHumidity"`
	BarometricPressure *float64 `mapstructure:"barometricPressure"`
	GasResistance      *float64 `mapstructure:"gasResistance"`
	Iaq                *float64 `mapstructure:"iaq"`
}

// TextPayload is the inline text-message portion of a TEXT_MESSAGE_APP
// packet's decoded data.
type TextPayload struct {
	Text    string `mapstructure:"text"`
	ReplyID *int64 `mapstructure:"replyId"`
	Emoji   *int   `mapstructure:"emoji"`
}

// decodePayload extracts decoded[key] into out. JSON numbers arrive as
// float64, so decoding is weakly typed.
func (e *Envelope) decodePayload(key string, out any) error {
	nested, ok := e.Decoded[key]
	if !ok {
		return apperr.New(apperr.CodeInvalidArgument, "decoded payload missing "+key)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(nested); err != nil {
		return apperr.Wrap(apperr.CodeInvalidArgument, "decoding "+key+" payload", err)
	}
	return nil
}

// TextPayload fields live directly under "decoded" rather than in a nested
// object, so they decode from the map itself.
func (e *Envelope) textPayload() (*TextPayload, error) {
	var p TextPayload
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &p,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(e.Decoded); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidArgument, "decoding text payload", err)
	}
	return &p, nil
}
