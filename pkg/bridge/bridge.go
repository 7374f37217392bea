// Package bridge runs an embedded MQTT broker that accepts packet batches
// from field gateways over MQTT instead of HTTP. Gateways connect with
// their node ID as the username and an API key secret as the password,
// then publish decoded packet JSON to the ingest topic.
package bridge

import (
	"log/slog"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/meshflow/meshflow-server/pkg/config"
	"github.com/meshflow/meshflow-server/pkg/ingest"
	"github.com/meshflow/meshflow-server/pkg/store"
)

type Bridge struct {
	server *mqtt.Server
	cfg    config.MqttBridgeSettings
}

// New assembles the broker with the ingest hook installed. Returns nil
// when the bridge is disabled in configuration.
func New(cfg *config.Configuration, storage store.Stores, engine *ingest.Engine, log *slog.Logger) (*Bridge, error) {
	if !cfg.Mqtt.Enabled {
		return nil, nil
	}

	server := mqtt.New(&mqtt.Options{
		InlineClient: false,
		Logger:       log,
	})

	err := server.AddHook(new(IngestHook), &IngestHookOptions{
		Server:      server,
		Storage:     &storage,
		Engine:      engine,
		IngestTopic: cfg.Mqtt.IngestTopic,
	})
	if err != nil {
		return nil, err
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "ingest-tcp", Address: cfg.Mqtt.ListenAddr})
	if err := server.AddListener(tcp); err != nil {
		return nil, err
	}

	return &Bridge{server: server, cfg: cfg.Mqtt}, nil
}

// Serve blocks until the broker shuts down.
func (b *Bridge) Serve() error {
	return b.server.Serve()
}

func (b *Bridge) Close() error {
	return b.server.Close()
}
