// Package mqtt mirrors session state, transcript entries and notices onto an
// MQTT broker so dashboards and home-automation hubs can follow a session.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/MrWong99/parley/internal/notify"
	"github.com/MrWong99/parley/internal/transcript"
)

// ErrNotStarted is returned by publish calls before [Publisher.Start].
var ErrNotStarted = errors.New("mqtt: publisher not started")

// Config describes the broker connection.
type Config struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// StateTopic returns the retained topic carrying the session state.
func StateTopic(prefix string) string { return topic(prefix, "state") }

// TranscriptTopic returns the topic each transcript entry is published to.
func TranscriptTopic(prefix string) string { return topic(prefix, "transcript") }

// NoticeTopic returns the topic notices are published to.
func NoticeTopic(prefix string) string { return topic(prefix, "notices") }

func topic(prefix, leaf string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = "parley"
	}
	return fmt.Sprintf("%s/%s", prefix, leaf)
}

// StatePayload is the retained state message.
type StatePayload struct {
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Publisher publishes JSON messages to the broker. Safe for concurrent use.
type Publisher struct {
	cfg       Config
	newClient func(*paho.ClientOptions) paho.Client

	mu     sync.Mutex
	client paho.Client
}

// Option configures a [Publisher].
type Option func(*Publisher)

// WithClientFactory replaces paho.NewClient. Used by tests.
func WithClientFactory(fn func(*paho.ClientOptions) paho.Client) Option {
	return func(p *Publisher) { p.newClient = fn }
}

// NewPublisher returns an unconnected Publisher.
func NewPublisher(cfg Config, opts ...Option) (*Publisher, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt: broker URL is required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt: invalid qos %d", cfg.QoS)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "parley"
	}
	p := &Publisher{cfg: cfg, newClient: paho.NewClient}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Start connects to the broker. The connection is closed when ctx is done.
func (p *Publisher) Start(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(p.cfg.BrokerURL).
		SetClientID(p.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		slog.Error("mqtt connection lost", "err", err)
	})

	client := p.newClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt: connect %s: %w", p.cfg.BrokerURL, token.Error())
	}

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()
	slog.Info("mqtt publisher connected", "broker", p.cfg.BrokerURL, "prefix", p.cfg.TopicPrefix)

	go func() {
		<-ctx.Done()
		p.Close()
	}()
	return nil
}

// PublishState publishes a retained state message.
func (p *Publisher) PublishState(state, errMsg string) error {
	return p.publish(StateTopic(p.cfg.TopicPrefix), true, StatePayload{
		State:     state,
		Error:     errMsg,
		UpdatedAt: time.Now().UTC(),
	})
}

// PublishEntry publishes one transcript entry.
func (p *Publisher) PublishEntry(e transcript.Entry) error {
	return p.publish(TranscriptTopic(p.cfg.TopicPrefix), false, e)
}

// PublishNotice publishes a notice event.
func (p *Publisher) PublishNotice(ev notify.Event) error {
	return p.publish(NoticeTopic(p.cfg.TopicPrefix), false, ev)
}

// Close disconnects from the broker. Safe to call more than once.
func (p *Publisher) Close() {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()
	if client != nil {
		client.Disconnect(100)
	}
}

func (p *Publisher) publish(topic string, retained bool, v any) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return ErrNotStarted
	}

	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("mqtt: encode %s: %w", topic, err)
	}
	token := client.Publish(topic, p.cfg.QoS, retained, body)
	if !token.WaitTimeout(5*time.Second) {
		return fmt.Errorf("mqtt: publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	return nil
}
