// Package events announces newly learned knowledge to other processes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/devbrain/internal/knowledge"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subject suffixes appended to the configured prefix.
const (
	SubjectWisdomSaved      = "wisdom.saved"
	SubjectAntiPatternSaved = "antipattern.saved"
)

// Publisher announces saved records. Implementations never block the caller
// on delivery failures; errors are returned for logging only.
type Publisher interface {
	WisdomSaved(ctx context.Context, block knowledge.WisdomBlock) error
	AntiPatternSaved(ctx context.Context, record knowledge.AntiPatternRecord) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) WisdomSaved(context.Context, knowledge.WisdomBlock) error             { return nil }
func (Nop) AntiPatternSaved(context.Context, knowledge.AntiPatternRecord) error { return nil }
func (Nop) Close() error                                                        { return nil }

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Envelope wraps every published payload.
type Envelope struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// NATSPublisher publishes JSON envelopes to core NATS subjects.
type NATSPublisher struct {
	conn   Conn
	prefix string
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

var _ Publisher = (*NATSPublisher)(nil)

// Connect dials url and returns a publisher for subjects under prefix.
func Connect(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("devbrain"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSPublisher(nc, prefix, logger), nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(conn Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = "devbrain"
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the full subject for suffix.
func (p *NATSPublisher) Subject(suffix string) string {
	return p.prefix + "." + suffix
}

func (p *NATSPublisher) WisdomSaved(_ context.Context, block knowledge.WisdomBlock) error {
	return p.publish(SubjectWisdomSaved, block)
}

func (p *NATSPublisher) AntiPatternSaved(_ context.Context, record knowledge.AntiPatternRecord) error {
	return p.publish(SubjectAntiPatternSaved, record)
}

func (p *NATSPublisher) publish(suffix string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("publisher closed")
	}

	payload, err := json.Marshal(Envelope{Type: suffix, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", suffix, err)
	}
	subject := p.Subject(suffix)
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	p.logger.Debug("event published", zap.String("subject", subject), zap.Int("bytes", len(payload)))
	return nil
}

// Close drains pending messages. It is safe to call more than once.
func (p *NATSPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Drain()
}
