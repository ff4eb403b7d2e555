package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/transport"
)

// mqttTransport publishes messages to an MQTT broker. The broker comes
// from settings; each target endpoint's path selects the topic.
type mqttTransport struct {
	broker   string
	username string
	password string
	logger   *slog.Logger
	client   mqtt.Client
}

func newMQTTTransport(settings config.Settings, logger *slog.Logger) (Transport, error) {
	broker := settings.GetString("transport.mqtt_broker")
	if broker == "" {
		return nil, fmt.Errorf("mqtt outbound requires transport.mqtt_broker")
	}
	return &mqttTransport{
		broker:   broker,
		username: settings.GetString("transport.mqtt_username"),
		password: settings.GetString("transport.mqtt_password"),
		logger:   logger.With("transport", "mqtt"),
	}, nil
}

func (t *mqttTransport) Scheme() string { return "mqtt" }

func (t *mqttTransport) Start(_ context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.broker)
	opts.SetClientID(fmt.Sprintf("parley-outbound-%d", time.Now().Unix()))
	if t.username != "" {
		opts.SetUsername(t.username)
		opts.SetPassword(t.password)
	}
	opts.SetKeepAlive(30 * time.Second)
	opts.SetAutoReconnect(true)

	t.client = mqtt.NewClient(opts)
	token := t.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect timeout to %s", t.broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	t.logger.Info("mqtt outbound transport started", "broker", t.broker)
	return nil
}

func (t *mqttTransport) Stop(_ context.Context) error {
	if t.client != nil && t.client.IsConnected() {
		t.client.Disconnect(250)
	}
	return nil
}

func (t *mqttTransport) Send(_ context.Context, target *transport.Target, payload []byte) error {
	if t.client == nil || !t.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}

	u, err := url.Parse(target.Endpoint)
	if err != nil {
		return fmt.Errorf("mqtt endpoint %q: %w", target.Endpoint, err)
	}
	topic := strings.TrimPrefix(u.Path, "/")
	if topic == "" {
		return fmt.Errorf("mqtt endpoint %q has no topic", target.Endpoint)
	}

	token := t.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}
