package daemon

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/relbuilder/internal/config"
)

// Build event types published on the configured NATS subject.
const (
	EventBuildStarted   = "build.started"
	EventBuildSucceeded = "build.succeeded"
	EventBuildFailed    = "build.failed"
)

// BuildEvent is the JSON payload published for each build lifecycle change.
type BuildEvent struct {
	Type          string `json:"type"`
	Project       string `json:"project"`
	Reason        string `json:"reason,omitempty"`
	BuildID       string `json:"build_id,omitempty"`
	Version       string `json:"version,omitempty"`
	ArchivePath   string `json:"archive_path,omitempty"`
	ArchiveSHA256 string `json:"archive_sha256,omitempty"`
	DurationMS    int64  `json:"duration_ms,omitempty"`
	Error         string `json:"error,omitempty"`
}

// EventPublisher publishes build events to a NATS subject.
type EventPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewEventPublisher connects to the configured NATS server.
func NewEventPublisher(cfg config.EventsConfig) (*EventPublisher, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("relbuilder"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}
	return &EventPublisher{conn: conn, subject: cfg.Subject}, nil
}

// Publish sends a single event. Delivery is fire-and-forget.
func (p *EventPublisher) Publish(ev BuildEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding build event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publishing build event: %w", err)
	}
	return nil
}

// Close drains and closes the connection.
func (p *EventPublisher) Close() {
	if p.conn == nil {
		return
	}
	_ = p.conn.Drain()
	p.conn.Close()
}
