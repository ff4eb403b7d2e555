package inbound

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

const defaultInboundTopic = "parley/inbound"

// mqttTransport receives messages from an MQTT broker subscription. A
// broker hop cannot hold the sender's connection open, so the receipt
// never supports direct responses.
type mqttTransport struct {
	broker   string
	topic    string
	username string
	password string
	receive  ReceiveFunc
	logger   *slog.Logger
	client   mqtt.Client
}

func newMQTTTransport(u *url.URL, receive ReceiveFunc, settings config.Settings, logger *slog.Logger) (Transport, error) {
	topic := strings.TrimPrefix(u.Path, "/")
	if topic == "" {
		topic = defaultInboundTopic
	}
	return &mqttTransport{
		broker:   "tcp://" + u.Host,
		topic:    topic,
		username: settings.GetString("transport.mqtt_username"),
		password: settings.GetString("transport.mqtt_password"),
		receive:  receive,
		logger:   logger.With("transport", "mqtt"),
	}, nil
}

func (t *mqttTransport) Scheme() string  { return "mqtt" }
func (t *mqttTransport) Address() string { return t.broker + "/" + t.topic }

func (t *mqttTransport) Start(_ context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.broker)
	opts.SetClientID(fmt.Sprintf("parley-inbound-%d", time.Now().Unix()))
	if t.username != "" {
		opts.SetUsername(t.username)
		opts.SetPassword(t.password)
	}
	opts.SetKeepAlive(30 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		t.logger.Warn("mqtt connection lost", "error", err)
	})

	t.client = mqtt.NewClient(opts)
	token := t.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect timeout to %s", t.broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	sub := t.client.Subscribe(t.topic, 1, t.handleMessage)
	if !sub.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt subscribe timeout on %s", t.topic)
	}
	if err := sub.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", t.topic, err)
	}

	t.logger.Info("mqtt inbound transport started", "broker", t.broker, "topic", t.topic)
	return nil
}

func (t *mqttTransport) Stop(_ context.Context) error {
	if t.client != nil && t.client.IsConnected() {
		t.client.Disconnect(250)
	}
	return nil
}

func (t *mqttTransport) handleMessage(_ mqtt.Client, m mqtt.Message) {
	payload := m.Payload()
	if len(payload) == 0 || len(payload) > maxMessageBytes {
		return
	}
	msg := transport.NewInboundMessage(payload, transport.Receipt{
		TransportType:      "mqtt",
		DirectResponseMode: transport.ReplyModeNone,
		CanReplyDirectly:   false,
	})
	t.receive(msg)
}
