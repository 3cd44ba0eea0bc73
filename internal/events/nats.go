// Package events publishes persisted-message events to NATS for
// external consumers — the notification dispatcher watches private
// subjects to alert offline recipients, analytics tails contest
// subjects. The messaging core only publishes: real-time fan-out to
// connected clients goes through the gateway's in-process room
// registry, never through the broker.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Subject patterns for persisted-message events.
const (
	SubjectPrivate = "chat.private" // + .<conversation_key>
	SubjectContest = "chat.contest" // + .<contest_id>
)

// Publisher is the outbound event sink controllers write to. Fan-out
// to the broker is best-effort, like fan-out to sockets; the store is
// the durable record.
type Publisher interface {
	PublishPrivate(conversationKey string, payload interface{})
	PublishContest(contestID string, payload interface{})
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int // -1 for infinite
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "chat-service",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NATSPublisher publishes message events to NATS.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to NATS with the given config.
func NewNATSPublisher(config NATSConfig) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("events: nats disconnected: %v", err)
			} else {
				log.Printf("events: nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("events: nats reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("events: nats connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("events: nats connect: %w", err)
	}

	log.Printf("events: connected to %s", nc.ConnectedUrl())
	return &NATSPublisher{conn: nc}, nil
}

// PublishPrivate publishes a private-message event on
// chat.private.<conversationKey>.
func (p *NATSPublisher) PublishPrivate(conversationKey string, payload interface{}) {
	p.publish(SubjectPrivate+"."+conversationKey, payload)
}

// PublishContest publishes a contest-message event on
// chat.contest.<contestID>.
func (p *NATSPublisher) PublishContest(contestID string, payload interface{}) {
	p.publish(SubjectContest+"."+contestID, payload)
}

func (p *NATSPublisher) publish(subject string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("events: marshal for %s: %v", subject, err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("events: publish %s: %v", subject, err)
	}
}

// Close drains and closes the NATS connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		log.Printf("events: nats drain: %v", err)
	}
	log.Printf("events: publisher closed")
}

// NopPublisher discards all events. Used in tests and when the service
// runs without a broker.
type NopPublisher struct{}

// PublishPrivate implements Publisher.
func (NopPublisher) PublishPrivate(string, interface{}) {}

// PublishContest implements Publisher.
func (NopPublisher) PublishContest(string, interface{}) {}
