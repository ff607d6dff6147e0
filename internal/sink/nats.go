package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"civsphere/event-ingester/internal/model"
)

const DefaultSubject = "events.committed"

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// publisher is the part of *nats.Conn the sink uses.
type publisher interface {
	Publish(subject string, data []byte) error
	Flush() error
	Close()
}

// Batch is the message published for each commit.
type Batch struct {
	Count  int           `json:"count"`
	SentAt time.Time     `json:"sent_at"`
	Events []model.Event `json:"events"`
}

type natsSink struct {
	conn    publisher
	subject string
	now     func() time.Time
}

func NewNATS(cfg NATSConfig) (Sink, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("event-ingester"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}
	return newNATS(nc, cfg.Subject), nil
}

func newNATS(conn publisher, subject string) *natsSink {
	if subject == "" {
		subject = DefaultSubject
	}
	return &natsSink{conn: conn, subject: subject, now: time.Now}
}

func (n *natsSink) Name() string { return "nats" }

func (n *natsSink) Push(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	data, err := json.Marshal(Batch{Count: len(events), SentAt: n.now().UTC(), Events: events})
	if err != nil {
		return fmt.Errorf("marshaling batch: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", n.subject, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.conn.Flush()
}

func (n *natsSink) Close() error {
	n.conn.Close()
	return nil
}
