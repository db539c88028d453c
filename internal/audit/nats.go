package audit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Connect dials NATS and returns a Publisher. With opts.Stream set, events go
// through JetStream and the stream is created or updated to cover the prefix.
// An empty opts.URL is an error.
func Connect(ctx context.Context, opts Options, logger *slog.Logger) (*Publisher, error) {
	cfg := opts
	cfg.setDefaults()
	if !cfg.Enabled() {
		return nil, errors.New("audit: no NATS URL configured")
	}
	natsOpts := []nats.Option{nats.Name("xbastion"), nats.Timeout(cfg.ConnectTimeout)}
	if cfg.User != "" {
		natsOpts = append(natsOpts, nats.UserInfo(cfg.User, cfg.Password))
	}
	conn, err := nats.Connect(cfg.URL, natsOpts...)
	if err != nil {
		return nil, err
	}
	if cfg.Stream == "" {
		return newPublisher(&corePublisher{conn: conn}, cfg, logger), nil
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, err
	}
	p := &jetStreamPublisher{conn: conn, js: js}
	sctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := p.ensureStream(sctx, &nats.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.Prefix + ".>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		MaxMsgs:    -1,
		MaxBytes:   cfg.MaxBytes,
		Discard:    nats.DiscardOld,
		Duplicates: cfg.DupeWindow,
	}); err != nil {
		conn.Close()
		return nil, err
	}
	return newPublisher(p, cfg, logger), nil
}

type corePublisher struct {
	conn *nats.Conn
}

func (p *corePublisher) publish(ctx context.Context, subject string, data []byte, msgID string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, msgID)
	if err := p.conn.PublishMsg(msg); err != nil {
		return err
	}
	return p.conn.FlushWithContext(ctx)
}

func (p *corePublisher) close() {
	_ = p.conn.Drain()
	p.conn.Close()
}

type jetStreamPublisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

func (p *jetStreamPublisher) ensureStream(ctx context.Context, cfg *nats.StreamConfig) error {
	if _, err := p.js.StreamInfo(cfg.Name, nats.Context(ctx)); err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) {
			_, addErr := p.js.AddStream(cfg, nats.Context(ctx))
			return addErr
		}
		return err
	}
	_, err := p.js.UpdateStream(cfg, nats.Context(ctx))
	return err
}

func (p *jetStreamPublisher) publish(ctx context.Context, subject string, data []byte, msgID string) error {
	_, err := p.js.Publish(subject, data, nats.MsgId(msgID), nats.Context(ctx))
	return err
}

func (p *jetStreamPublisher) close() {
	_ = p.conn.Drain()
	p.conn.Close()
}
