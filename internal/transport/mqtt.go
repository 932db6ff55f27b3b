package transport

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConfig holds broker settings shared by every connection.
type MQTTConfig struct {
	BrokerURL      string
	Username       string
	Password       string
	SubscribeQoS   byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	AutoReconnect  bool
}

// MQTT is a Transport backed by the paho MQTT client.
type MQTT struct {
	cfg    MQTTConfig
	logger *zap.Logger

	// newClient is replaced in tests.
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu        sync.Mutex
	client    mqtt.Client
	connected bool
	subs      map[string]bool
	handlers  []func(any)
}

// NewMQTT creates an unconnected MQTT transport.
func NewMQTT(cfg MQTTConfig, logger *zap.Logger) *MQTT {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTT{
		cfg:       cfg,
		logger:    logger,
		newClient: mqtt.NewClient,
		subs:      make(map[string]bool),
	}
}

// MQTTDialer returns a Dialer producing MQTT transports for cfg.
func MQTTDialer(cfg MQTTConfig, logger *zap.Logger) Dialer {
	return func() Transport { return NewMQTT(cfg, logger) }
}

// RegisterEventHandler adds a handler for transport events.
func (t *MQTT) RegisterEventHandler(handler func(any)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, handler)
}

func (t *MQTT) emit(evt any) {
	t.mu.Lock()
	handlers := make([]func(any), len(t.handlers))
	copy(handlers, t.handlers)
	t.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

// Connect starts connecting to the broker and returns immediately.
func (t *MQTT) Connect(opts ConnectOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	co := mqtt.NewClientOptions().
		AddBroker(t.cfg.BrokerURL).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(t.cfg.AutoReconnect).
		SetBinaryWill(opts.Will.Topic, opts.Will.Payload, opts.Will.QoS, opts.Will.Retain).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(t.onConnectionLost)
	if t.cfg.KeepAlive > 0 {
		co.SetKeepAlive(t.cfg.KeepAlive)
	}
	if t.cfg.ConnectTimeout > 0 {
		co.SetConnectTimeout(t.cfg.ConnectTimeout)
	}
	if t.cfg.Username != "" {
		co.SetUsername(t.cfg.Username)
		co.SetPassword(t.cfg.Password)
	}

	t.mu.Lock()
	if t.client != nil {
		t.mu.Unlock()
		return fmt.Errorf("connect: already started")
	}
	client := t.newClient(co)
	t.client = client
	t.mu.Unlock()

	t.logger.Info("connecting to broker",
		zap.String("broker", t.cfg.BrokerURL),
		zap.String("client_id", opts.ClientID),
	)
	token := client.Connect()
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			t.logger.Warn("broker connect failed", zap.Error(err))
			t.emit(&ConnectionFailed{Err: err})
		}
	}()
	return nil
}

func (t *MQTT) onConnect(mqtt.Client) {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	t.logger.Info("broker connected")
	t.emit(&Connected{})
}

func (t *MQTT) onConnectionLost(_ mqtt.Client, err error) {
	t.mu.Lock()
	t.connected = false
	// Clean sessions drop subscriptions with the connection.
	t.subs = make(map[string]bool)
	t.mu.Unlock()
	t.logger.Warn("broker connection lost", zap.Error(err))
	t.emit(&Disconnected{Err: err})
}

// Subscribe subscribes to topic. Subscribing twice to the same topic is a no-op.
func (t *MQTT) Subscribe(topic string) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return ErrNotConnected
	}
	if t.subs[topic] {
		t.mu.Unlock()
		return nil
	}
	t.subs[topic] = true
	client := t.client
	t.mu.Unlock()

	token := client.Subscribe(topic, t.cfg.SubscribeQoS, func(_ mqtt.Client, m mqtt.Message) {
		payload := make([]byte, len(m.Payload()))
		copy(payload, m.Payload())
		t.emit(&Message{Topic: m.Topic(), Payload: payload})
	})
	go t.forgetFailedSubscribe(token, topic)
	return nil
}

// Publish hands payload to the client without waiting for acknowledgment.
func (t *MQTT) Publish(topic string, payload []byte, opts PublishOptions) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return ErrNotConnected
	}
	client := t.client
	t.mu.Unlock()

	token := client.Publish(topic, opts.QoS, opts.Retain, payload)
	go t.logFailure(token, "publish failed", topic)
	return nil
}

func (t *MQTT) logFailure(token mqtt.Token, msg, topic string) {
	<-token.Done()
	if err := token.Error(); err != nil {
		t.logger.Warn(msg, zap.String("topic", topic), zap.Error(err))
	}
}

// forgetFailedSubscribe clears topic after a rejected subscribe so a later
// Subscribe retries it.
func (t *MQTT) forgetFailedSubscribe(token mqtt.Token, topic string) {
	<-token.Done()
	err := token.Error()
	if err == nil {
		return
	}
	t.logger.Warn("subscribe failed", zap.String("topic", topic), zap.Error(err))
	t.mu.Lock()
	delete(t.subs, topic)
	t.mu.Unlock()
}

// Disconnect closes the connection cleanly. The will is not published.
func (t *MQTT) Disconnect() {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.connected = false
	t.subs = make(map[string]bool)
	t.mu.Unlock()

	if client != nil {
		t.logger.Info("disconnecting from broker")
		client.Disconnect(250)
	}
}
