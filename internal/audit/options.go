package audit

import "time"

// Options describe where session events are published. An empty URL
// disables auditing.
type Options struct {
	URL      string
	User     string
	Password string
	// Prefix is the first subject token.
	Prefix string
	// Stream, when set, publishes through JetStream into this stream
	// (created if missing) with per-event de-duplication ids.
	Stream     string
	MaxBytes   int64
	DupeWindow time.Duration
	// ConnectTimeout bounds the initial dial.
	ConnectTimeout time.Duration
	// PublishTimeout bounds each event's flush or JetStream ack.
	PublishTimeout time.Duration
}

// Enabled reports whether events should be published at all.
func (o Options) Enabled() bool { return o.URL != "" }

func (o *Options) setDefaults() {
	if o.Prefix == "" {
		o.Prefix = "xbastion"
	}
	if o.MaxBytes == 0 {
		o.MaxBytes = 1024 * 1024 * 1024 // 1GB
	}
	if o.DupeWindow == 0 {
		o.DupeWindow = 2 * time.Minute
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.PublishTimeout == 0 {
		o.PublishTimeout = 5 * time.Second
	}
}
