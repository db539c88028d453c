// Package audit publishes the lifecycle of bastion sessions to NATS so that
// operators can see who opened which bastion, and when.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Event kinds, in the order a session emits them.
const (
	KindSessionStarted = "session.started"
	KindTaskLaunched   = "task.launched"
	KindTaskStatus     = "task.status"
	KindTaskRunning    = "task.running"
	KindSessionEnded   = "session.ended"
)

// Event is one lifecycle record.
type Event struct {
	Kind         string    `json:"kind"`
	Session      string    `json:"session"`
	Installation string    `json:"installation"`
	Seq          uint64    `json:"seq"`
	Time         time.Time `json:"time"`

	Mode     string `json:"mode,omitempty"`
	User     string `json:"user,omitempty"`
	Task     string `json:"task,omitempty"`
	Status   string `json:"status,omitempty"`
	Address  string `json:"address,omitempty"`
	Database string `json:"database,omitempty"`
	Error    string `json:"error,omitempty"`
	// ErrorKind is the failure class, e.g. "launch" or "task failed".
	ErrorKind string `json:"errorKind,omitempty"`
	ExitCode  int    `json:"exitCode,omitempty"`
}

// Recorder accepts session events.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// publisher is the transport under a Publisher: core NATS or JetStream.
type publisher interface {
	publish(ctx context.Context, subject string, data []byte, msgID string) error
	close()
}

// Publisher encodes events as JSON and publishes each on
// <prefix>.<installation>.<session>.<kind>.
type Publisher struct {
	pub     publisher
	prefix  string
	timeout time.Duration
	seq     atomic.Uint64
	logger  *slog.Logger
	now     func() time.Time
}

func newPublisher(pub publisher, opts Options, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	opts.setDefaults()
	return &Publisher{pub: pub, prefix: opts.Prefix, timeout: opts.PublishTimeout, logger: logger, now: time.Now}
}

// Record stamps e with the next sequence number and publishes it. Each
// publish is bounded by the publish timeout, whatever deadline ctx carries.
func (p *Publisher) Record(ctx context.Context, e Event) error {
	e.Seq = p.seq.Add(1)
	if e.Time.IsZero() {
		e.Time = p.now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	subject := Subject(p.prefix, e)
	msgID := fmt.Sprintf("%s:%d", e.Session, e.Seq)
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.pub.publish(ctx, subject, data, msgID); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("audit event published", "subject", subject, "seq", e.Seq)
	return nil
}

// Close flushes and closes the connection.
func (p *Publisher) Close() {
	if p.pub != nil {
		p.pub.close()
	}
}

// Subject is the publish subject of e.
func Subject(prefix string, e Event) string {
	return strings.Join([]string{prefix, token(e.Installation), token(e.Session), e.Kind}, ".")
}

// token makes s safe as a single subject token.
func token(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
