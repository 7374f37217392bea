package ingest

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/meshflow/meshflow-server/pkg/apperr"
	"github.com/meshflow/meshflow-server/pkg/mesh"
)

func TestParseEnvelopeRejectsIncompleteIdentity(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing sender", `{"id": 1, "rxTime": 1700000000}`},
		{"missing packet id", `{"from": 42, "rxTime": 1700000000}`},
		{"missing rx time", `{"id": 1, "from": 42}`},
		{"not json", `{broken`},
		{"wrong shape", `[1, 2, 3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEnvelope(json.RawMessage(tt.raw))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var ae *apperr.AppError
			if !errors.As(err, &ae) || ae.Code != apperr.CodeInvalidArgument {
				t.Errorf("expected invalid-argument error, got %v", err)
			}
		})
	}
}

func TestParseEnvelopeFields(t *testing.T) {
	raw := json.RawMessage(`{
		"id": 12345,
		"from": 1129738836,
		"fromId": "!43567254",
		"to": 4294967295,
		"rxTime": 1700000000,
		"rxSnr": 6.25,
		"hopLimit": 3,
		"decoded": {"portnum": "TEXT_MESSAGE_APP", "text": "hi"}
	}`)

	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.Sender() != mesh.NodeID(1129738836) {
		t.Errorf("Sender = %d", env.Sender())
	}
	if env.Sender().String() != "!43567254" {
		t.Errorf("Sender hex = %s", env.Sender().String())
	}
	if env.Portnum() != mesh.PortTextMessage {
		t.Errorf("Portnum = %q", env.Portnum())
	}
	if !env.ReceivedAt().Equal(time.Unix(1700000000, 0).UTC()) {
		t.Errorf("ReceivedAt = %v", env.ReceivedAt())
	}
	if env.RxSnr == nil || *env.RxSnr != 6.25 {
		t.Errorf("RxSnr = %v", env.RxSnr)
	}
}

func TestIsBroadcast(t *testing.T) {
	broadcast := int64(4294967295)
	direct := int64(123456)

	tests := []struct {
		name string
		to   *int64
		want bool
	}{
		{"broadcast address", &broadcast, true},
		{"direct address", &direct, false},
		{"no recipient", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &Envelope{To: tt.to}
			if got := env.IsBroadcast(); got != tt.want {
				t.Errorf("IsBroadcast = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPortnumWithoutDecoded(t *testing.T) {
	env := &Envelope{}
	if env.Portnum() != "" {
		t.Errorf("Portnum on empty envelope = %q, want empty", env.Portnum())
	}
}

func TestTextPayloadDecodesInline(t *testing.T) {
	env := &Envelope{Decoded: map[string]any{
		"portnum": "TEXT_MESSAGE_APP",
		"text":    "ping",
		"replyId": float64(42),
		"emoji":   float64(1),
	}}
	p, err := env.textPayload()
	if err != nil {
		t.Fatalf("textPayload: %v", err)
	}
	if p.Text != "ping" {
		t.Errorf("Text = %q", p.Text)
	}
	if p.ReplyID == nil || *p.ReplyID != 42 {
		t.Errorf("ReplyID = %v", p.ReplyID)
	}
	if p.Emoji == nil || *p.Emoji != 1 {
		t.Errorf("Emoji = %v", p.Emoji)
	}
}
