package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/octobridge/pkg/common"
	"github.com/raterudder/octobridge/pkg/log"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultKeepAlive         = 60 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	maxReconnectInterval     = 2 * time.Minute
	maxPayloadSize           = 1024 * 1024
	qos                      = 1
)

// CommandHandler is called with the value the host wants to set on a text
// entity.
type CommandHandler func(ctx context.Context, entityID, value string) error

// Publisher exposes entities to the home-automation host through its MQTT
// integration: discovery configs, state and attribute topics, text commands
// and the list of open issues.
type Publisher struct {
	broker   string
	clientID string
	username string
	password string
	topics   Topics
	device   DeviceConfig

	client pahomqtt.Client
	// ctx carries the logger for callbacks invoked by paho
	ctx context.Context

	connected bool
	connMu    sync.RWMutex

	// command topics are restored on reconnect
	commands map[string]string
	subMu    sync.RWMutex

	handler   CommandHandler
	handlerMu sync.RWMutex
}

// Configured sets up flags for the MQTT broker and returns the publisher.
// When no broker is configured the publisher stays disabled.
func Configured() *Publisher {
	p := &Publisher{
		commands: make(map[string]string),
	}
	broker := lflag.String("mqtt-broker", "", "MQTT broker URL (e.g. tcp://localhost:1883), empty disables MQTT")
	clientID := lflag.String("mqtt-client-id", "octobridge", "MQTT client id")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	prefix := lflag.String("mqtt-topic-prefix", "octobridge", "Prefix of the state, attribute and command topics")
	discoveryPrefix := lflag.String("mqtt-discovery-prefix", "homeassistant", "Discovery prefix of the home-automation host")

	lflag.Do(func() {
		p.broker = *broker
		p.clientID = *clientID
		p.username = *username
		p.password = *password
		p.topics = Topics{Prefix: *prefix, DiscoveryPrefix: *discoveryPrefix}
		if p.broker != "" {
			if _, err := url.Parse(p.broker); err != nil {
				panic(fmt.Sprintf("invalid mqtt-broker: %v", err))
			}
		}
	})

	return p
}

// newPublisher returns a publisher on an existing client.
func newPublisher(client pahomqtt.Client, topics Topics, device DeviceConfig) *Publisher {
	return &Publisher{
		client:    client,
		topics:    topics,
		device:    device,
		ctx:       context.Background(),
		commands:  make(map[string]string),
		connected: true,
	}
}

// Enabled reports whether a broker is configured.
func (p *Publisher) Enabled() bool {
	return p.broker != ""
}

// Topics returns the topic layout used by the publisher.
func (p *Publisher) Topics() Topics {
	return p.topics
}

// SetDevice sets the device the entities are grouped under.
func (p *Publisher) SetDevice(device DeviceConfig) {
	p.device = device
}

// SetCommandHandler sets the handler for text commands.
func (p *Publisher) SetCommandHandler(h CommandHandler) {
	p.handlerMu.Lock()
	p.handler = h
	p.handlerMu.Unlock()
}

func (p *Publisher) buildClientOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.broker)
	opts.SetClientID(p.clientID)
	if p.username != "" {
		opts.SetUsername(p.username)
		opts.SetPassword(p.password)
	}
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(maxReconnectInterval)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)
	// the host marks every entity unavailable when we drop off
	opts.SetWill(p.topics.Status(), statusPayload(false), qos, true)
	return opts
}

// Connect connects to the broker and publishes the online status.
func (p *Publisher) Connect(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	p.ctx = log.WithAttrs(context.WithoutCancel(ctx), slog.String("component", "mqtt"))

	opts := p.buildClientOptions()
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		p.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		p.connMu.Lock()
		p.connected = false
		p.connMu.Unlock()
		log.Ctx(p.ctx).Warn("mqtt connection lost", slog.Any("error", err))
	})

	p.client = pahomqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// the connect handler runs asynchronously
	p.connMu.Lock()
	p.connected = true
	p.connMu.Unlock()

	log.Ctx(ctx).Info("connected to mqtt broker", slog.String("broker", p.broker))
	return nil
}

func (p *Publisher) handleConnect() {
	p.connMu.Lock()
	p.connected = true
	p.connMu.Unlock()

	p.subMu.RLock()
	for topic := range p.commands {
		p.client.Subscribe(topic, qos, p.wrapHandler())
	}
	p.subMu.RUnlock()

	p.client.Publish(p.topics.Status(), qos, true, statusPayload(true))
}

// IsConnected returns the last known connection state.
func (p *Publisher) IsConnected() bool {
	if p.client == nil {
		return false
	}
	p.connMu.RLock()
	defer p.connMu.RUnlock()
	return p.connected && p.client.IsConnected()
}

// HealthCheck returns ErrNotConnected when the broker is configured but
// unreachable.
func (p *Publisher) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if p.client == nil {
		return nil
	}
	if !p.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close publishes the offline status and disconnects.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	if p.IsConnected() {
		token := p.client.Publish(p.topics.Status(), qos, true, statusPayload(false))
		token.WaitTimeout(defaultPublishTimeout)
	}
	p.client.Disconnect(defaultDisconnectQuiesce)

	p.connMu.Lock()
	p.connected = false
	p.connMu.Unlock()
	return nil
}

// publish sends a retained message and waits for the acknowledgement.
func (p *Publisher) publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrPublishFailed)
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload for %s is %d bytes", ErrPublishFailed, topic, len(payload))
	}
	if !p.IsConnected() {
		return ErrNotConnected
	}

	token := p.client.Publish(topic, qos, true, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrPublishFailed, ctx.Err())
	case <-time.After(defaultPublishTimeout):
		return fmt.Errorf("%w: timeout publishing to %s", ErrPublishFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// subscribeCommand subscribes to the command topic of a text entity.
func (p *Publisher) subscribeCommand(topic, entityID string) error {
	p.subMu.Lock()
	_, exists := p.commands[topic]
	p.commands[topic] = entityID
	p.subMu.Unlock()
	if exists {
		return nil
	}

	token := p.client.Subscribe(topic, qos, p.wrapHandler())
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout subscribing to %s", ErrSubscribeFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

func (p *Publisher) wrapHandler() pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				log.Ctx(p.ctx).Error("panic in mqtt command handler",
					slog.String("topic", msg.Topic()),
					slog.Any("panic", r),
				)
			}
		}()
		p.handleCommand(msg.Topic(), msg.Payload())
	}
}

func (p *Publisher) handleCommand(topic string, payload []byte) {
	ctx := p.ctx
	entityID, ok := p.topics.entityIDFromCommand(topic)
	if !ok {
		log.Ctx(ctx).Warn("ignoring message on unexpected topic", slog.String("topic", topic))
		return
	}

	p.handlerMu.RLock()
	h := p.handler
	p.handlerMu.RUnlock()
	if h == nil {
		log.Ctx(ctx).Warn("no command handler set", slog.String("entityID", entityID))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	ctx = log.WithAttrs(ctx, slog.String("entityID", entityID))
	if err := h(ctx, entityID, string(payload)); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to set value from mqtt", slog.Any("error", err))
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "set value from mqtt", slog.String("value", string(payload)))
}

// DefaultDevice returns the device all entities of an account are grouped
// under.
func DefaultDevice(accountID string) DeviceConfig {
	return DeviceConfig{
		Identifiers:  []string{"octopus_energy_" + accountID},
		Manufacturer: "Octopus Energy",
		Name:         "Octopus Energy " + accountID,
		SWVersion:    common.Version(),
	}
}
