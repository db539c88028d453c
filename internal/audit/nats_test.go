package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func runServer(t *testing.T, jetStream bool) string {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	if jetStream {
		opts.JetStream = true
		opts.StoreDir = t.TempDir()
	}
	s := natsserver.RunServer(&opts)
	t.Cleanup(s.Shutdown)
	return s.ClientURL()
}

func TestConnectCorePublish(t *testing.T) {
	url := runServer(t, false)

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()
	inbox, err := sub.SubscribeSync("xbastion.>")
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	p, err := Connect(context.Background(), Options{URL: url}, nil)
	require.NoError(t, err)
	defer p.Close()

	// A context without a deadline, as the CLI passes in.
	ctx := context.WithoutCancel(context.Background())
	require.NoError(t, p.Record(ctx, Event{Kind: KindSessionStarted, Session: "s1", Installation: "prod", Mode: "ssh"}))

	msg, err := inbox.NextMsg(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "xbastion.prod.s1.session.started", msg.Subject)
	require.Equal(t, "s1:1", msg.Header.Get(nats.MsgIdHdr))

	var e Event
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	require.Equal(t, KindSessionStarted, e.Kind)
	require.Equal(t, "ssh", e.Mode)
}

func TestConnectJetStream(t *testing.T) {
	url := runServer(t, true)
	opts := Options{URL: url, Prefix: "audit", Stream: "XBASTION_AUDIT", MaxBytes: 64 << 20}

	p, err := Connect(context.Background(), opts, nil)
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Record(ctx, Event{Kind: KindSessionStarted, Session: "s1", Installation: "prod"}))
	require.NoError(t, p.Record(ctx, Event{Kind: KindTaskLaunched, Session: "s1", Installation: "prod", Task: "abc"}))

	// Re-sending an already published id is dropped by the stream.
	dupCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, p.pub.publish(dupCtx, "audit.prod.s1.session.started", []byte(`{}`), "s1:1"))

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()
	js, err := nc.JetStream()
	require.NoError(t, err)
	info, err := js.StreamInfo("XBASTION_AUDIT")
	require.NoError(t, err)
	require.Equal(t, []string{"audit.>"}, info.Config.Subjects)
	require.Equal(t, 2*time.Minute, info.Config.Duplicates)
	require.Equal(t, uint64(2), info.State.Msgs)

	// A second session finds the stream already in place.
	again, err := Connect(context.Background(), opts, nil)
	require.NoError(t, err)
	again.Close()
}

func TestConnectRequiresURL(t *testing.T) {
	_, err := Connect(context.Background(), Options{}, nil)
	require.ErrorContains(t, err, "no NATS URL")
}
