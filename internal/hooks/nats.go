package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/flowmesh/flowmesh/pkg/schema"
)

// NATSConfig holds configuration for the NATS sender.
type NATSConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name identifies this client on the server.
	Name string

	// SubjectPrefix prefixes every published subject. Default "execution".
	SubjectPrefix string

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for unlimited reconnects.
	MaxReconnects int

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// Timeout is the connection timeout.
	Timeout time.Duration

	// PublishMaxRetries is the maximum number of retry attempts when a
	// publish fails. Default 3 with one second between attempts.
	PublishMaxRetries int

	// Token is an optional authentication token.
	Token string

	// Username and Password are optional credentials.
	Username string
	Password string
}

// DefaultNATSConfig returns a configuration with sensible defaults.
func DefaultNATSConfig(url string) *NATSConfig {
	return &NATSConfig{
		URL:               url,
		Name:              "flowmesh-hooks",
		SubjectPrefix:     "execution",
		MaxReconnects:     10,
		ReconnectWait:     2 * time.Second,
		Timeout:           5 * time.Second,
		PublishMaxRetries: 3,
	}
}

// NATSSender publishes lifecycle signals as JSON to NATS subjects:
//
//	<prefix>.status         status transitions
//	<prefix>.response       response chunks
//	<prefix>.node_output    node debug output
//	<prefix>.event          telemetry events
type NATSSender struct {
	conn       *nats.Conn
	prefix     string
	maxRetries int
}

// NewNATSSender connects to NATS and returns a sender.
func NewNATSSender(ctx context.Context, cfg *NATSConfig) (*NATSSender, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nats config cannot be nil")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url cannot be empty")
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	} else if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(cfg.URL, opts...)
		resultCh <- result{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", res.err)
		}
		prefix := cfg.SubjectPrefix
		if prefix == "" {
			prefix = "execution"
		}
		retries := cfg.PublishMaxRetries
		if retries <= 0 {
			retries = 3
		}
		return &NATSSender{conn: res.conn, prefix: prefix, maxRetries: retries}, nil
	}
}

// SetStatus publishes a status transition.
func (s *NATSSender) SetStatus(ctx context.Context, executionID string, status schema.ExecutionStatus) error {
	return s.publish(ctx, s.prefix+".status", map[string]any{
		"execution_id": executionID,
		"status":       string(status),
		"timestamp":    time.Now().UTC(),
	})
}

// SendResponse publishes a response chunk.
func (s *NATSSender) SendResponse(ctx context.Context, executionID string, response map[string]any) error {
	return s.publish(ctx, s.prefix+".response", map[string]any{
		"execution_id": executionID,
		"response":     response,
	})
}

// SendNodeOutput publishes node debug output.
func (s *NATSSender) SendNodeOutput(ctx context.Context, executionID, nodeName string, output map[string]any) error {
	return s.publish(ctx, s.prefix+".node_output", map[string]any{
		"execution_id": executionID,
		"node_name":    nodeName,
		"output":       output,
	})
}

// EmitEvent publishes a telemetry event.
func (s *NATSSender) EmitEvent(ctx context.Context, event schema.TelemetryEvent) error {
	return s.publish(ctx, s.prefix+".event", event)
}

// publish marshals payload and publishes it, retrying on failure.
func (s *NATSSender) publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", subject, err)
	}

	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
		if lastErr = s.conn.Publish(subject, data); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("publish to %s after %d attempts: %w", subject, s.maxRetries, lastErr)
}

// Close drains the connection so in-flight messages complete.
func (s *NATSSender) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}

var _ Sender = (*NATSSender)(nil)
