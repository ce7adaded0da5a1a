// ABOUTME: NATS notifier publishing visit events as JSON
// ABOUTME: Accepts any connection that can publish raw bytes to a subject

package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSPublisher is the subset of *nats.Conn used for notifications.
type NATSPublisher interface {
	Publish(subj string, data []byte) error
}

// NATS publishes visit events to a subject.
type NATS struct {
	conn    NATSPublisher
	subject string
}

// NewNATS returns a notifier publishing to subject.
func NewNATS(conn NATSPublisher, subject string) *NATS {
	return &NATS{conn: conn, subject: subject}
}

func (n *NATS) Notify(_ context.Context, ev VisitEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode visit event: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", n.subject, err)
	}
	return nil
}

// ConnectNATS opens a named connection to url.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("geotrack"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return nc, nil
}
