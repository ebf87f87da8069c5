package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/joeblew999/plat-voyages/internal/service"
)

// PublisherMetrics counts publish outcomes. metrics.Collector satisfies it.
type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
}

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher forwards build events to NATS.
type NATSPublisher struct {
	conn    Conn
	nc      *nats.Conn
	subject string
	metrics PublisherMetrics
}

// New wraps an existing connection. Close is a no-op for it.
func New(conn Conn, subject string, m PublisherMetrics) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject, metrics: m}
}

func NewNATSPublisher(url, subject string, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("plat-voyages"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			log.Printf("[nats] disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("[nats] reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &NATSPublisher{conn: nc, nc: nc, subject: subject, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.nc.Close()
		}
	}
}

// Publish sends one event on <subject>.<kind>.<stage>.
func (p *NATSPublisher) Publish(e service.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	err = p.conn.Publish(Subject(p.subject, e), b)
	if p.metrics != nil {
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

// Forward publishes every bus event until ctx is done.
func (p *NATSPublisher) Forward(ctx context.Context, bus *service.EventBus) {
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := p.Publish(e); err != nil {
				log.Printf("[nats] publish %s: %v", e.BuildID, err)
			}
		}
	}
}

// Subject returns the subject an event is published on.
func Subject(prefix string, e service.Event) string {
	return fmt.Sprintf("%s.%s.%s", prefix, subjectToken(e.Kind), subjectToken(e.Stage))
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
