// Package publish sends walk results to NATS so other services can follow
// what a treeview run found.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/walk"
)

// Header names set on every published message.
const (
	HeaderRunID    = "Treeview-Run"
	HeaderNodeType = "Treeview-Node-Type"
)

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	PublishMsg(m *nats.Msg) error
}

// Summary is the payload published for each walked node.
type Summary struct {
	RunID       string            `json:"run_id"`
	Path        string            `json:"path"`
	Label       string            `json:"label"`
	Type        datanode.NodeType `json:"type"`
	Description string            `json:"description,omitempty"`
	Depth       int               `json:"depth"`
	Children    int               `json:"children"`
	PublishedAt string            `json:"published_at"`
}

// Config holds configuration for the publisher
type Config struct {
	Subject    string        // Subject to publish summaries to (default: "treeview.nodes")
	MaxRetries int           // Maximum number of retry attempts (default: 3)
	RetryDelay time.Duration // Delay between retries (default: 1s)
	Logger     *zap.Logger   // Optional, no-op if nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Subject:    "treeview.nodes",
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// Publisher publishes one Summary per walk entry. It implements walk.Sink.
type Publisher struct {
	conn   Conn
	config Config
	logger *zap.Logger
	runID  string
}

var _ walk.Sink = (*Publisher)(nil)

// NewPublisher creates a publisher. Every summary it sends carries the same
// freshly generated run id.
func NewPublisher(conn Conn, config Config) (*Publisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection cannot be nil")
	}
	if config.Subject == "" {
		return nil, fmt.Errorf("subject cannot be empty")
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		conn:   conn,
		config: config,
		logger: logger,
		runID:  uuid.NewString(),
	}, nil
}

// RunID returns the run id attached to every summary.
func (p *Publisher) RunID() string {
	return p.runID
}

// Emit publishes the summary of e.
func (p *Publisher) Emit(ctx context.Context, e *walk.Entry) error {
	s := Summary{
		RunID:       p.runID,
		Path:        e.Path,
		Label:       e.Label,
		Type:        e.Type,
		Description: e.Description,
		Depth:       e.Depth,
		Children:    len(e.Children),
		PublishedAt: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode summary of %s: %w", e.Path, err)
	}
	msg := nats.NewMsg(p.config.Subject)
	msg.Data = data
	msg.Header.Set(HeaderRunID, p.runID)
	msg.Header.Set(HeaderNodeType, string(e.Type))
	return p.publishWithRetry(ctx, msg)
}

// publishWithRetry attempts to publish a message with retry logic
func (p *Publisher) publishWithRetry(ctx context.Context, msg *nats.Msg) error {
	var lastErr error

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Debug("Retrying publish",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", p.config.MaxRetries+1),
				zap.String("subject", msg.Subject))
			select {
			case <-ctx.Done():
				return fmt.Errorf("publish cancelled during retry: %w", ctx.Err())
			case <-time.After(p.config.RetryDelay):
			}
		}

		err := p.conn.PublishMsg(msg)
		if err == nil {
			return nil
		}

		lastErr = err
		p.logger.Warn("Publish attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", p.config.MaxRetries+1),
			zap.String("subject", msg.Subject),
			zap.Error(err))
	}

	return fmt.Errorf("publish failed after %d attempts: %w", p.config.MaxRetries+1, lastErr)
}
