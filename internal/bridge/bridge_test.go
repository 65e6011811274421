package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remote-agent-terminal/shellbridge/internal/model"
	"github.com/remote-agent-terminal/shellbridge/internal/transport"
)

func TestBridge_NotConnected(t *testing.T) {
	b, rec, d := newTestBridge(t, fastLoop())
	ctx := context.Background()

	assert.ErrorIs(t, b.Send(ctx, []byte("ls\n")), model.ErrNotConnected)
	assert.ErrorIs(t, b.Resize(ctx, 24, 80), model.ErrNotConnected)
	assert.NoError(t, b.Disconnect(ctx), "disconnect with nothing registered succeeds")
	assert.False(t, b.IsConnected())

	_, ok := b.Info()
	assert.False(t, ok)
	assert.Zero(t, d.Calls())
	assert.Empty(t, rec.Log())
}

func TestBridge_ConnectValidation(t *testing.T) {
	password := "pw"
	tests := []struct {
		name  string
		req   model.ConnectRequest
		field string
	}{
		{"empty host", model.ConnectRequest{Username: "u", Port: 22, Password: &password}, "host"},
		{"empty username", model.ConnectRequest{Host: "h", Port: 22, Password: &password}, "username"},
		{"port zero", model.ConnectRequest{Host: "h", Username: "u", Password: &password}, "port"},
		{"port too high", model.ConnectRequest{Host: "h", Username: "u", Port: 70000, Password: &password}, "port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _, d := newTestBridge(t, fastLoop())

			_, err := b.Connect(context.Background(), tt.req)

			var ve *model.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.Zero(t, d.Calls(), "validation must fail before dialing")
			assert.False(t, b.IsConnected())
		})
	}
}

func TestBridge_ConnectSetupError(t *testing.T) {
	b, _, d := newTestBridge(t, fastLoop())
	d.err = &model.SetupError{Step: model.StepAuth, Err: errors.New("bad password")}

	_, err := b.Connect(context.Background(), localRequest())

	se, ok := model.IsSetupError(err)
	require.True(t, ok)
	assert.Equal(t, model.StepAuth, se.Step)
	assert.False(t, b.IsConnected())
}

func TestBridge_ConnectWrapsPlainDialError(t *testing.T) {
	b, _, d := newTestBridge(t, fastLoop())
	d.err = errors.New("boom")

	_, err := b.Connect(context.Background(), localRequest())

	se, ok := model.IsSetupError(err)
	require.True(t, ok)
	assert.Equal(t, model.StepDial, se.Step)
}

func TestBridge_ConnectInfo(t *testing.T) {
	b, _, _ := newTestBridge(t, fastLoop(), &fakeTransport{})

	info, err := b.Connect(context.Background(), localRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, info.ID)
	assert.NotZero(t, info.Serial)
	assert.Equal(t, model.SessionStatusConnected, info.Status)
	assert.Equal(t, "local:/bin/sh", info.Destination)

	current, ok := b.Info()
	require.True(t, ok)
	assert.Equal(t, info.ID, current.ID)
	assert.True(t, b.IsConnected())
}

func TestBridge_WriteOrdering(t *testing.T) {
	tr := &fakeTransport{}
	b, _, _ := newTestBridge(t, fastLoop(), tr)
	ctx := context.Background()

	_, err := b.Connect(ctx, localRequest())
	require.NoError(t, err)

	require.NoError(t, b.Send(ctx, []byte("a")))
	require.NoError(t, b.Send(ctx, []byte("b")))
	require.NoError(t, b.Send(ctx, []byte("c")))

	require.Eventually(t, func() bool { return tr.Written() == "abc" }, time.Second, time.Millisecond)
}

func TestBridge_WriteOrderingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("bytes reach the transport in send order", prop.ForAll(
		func(chunks []string, limit int) bool {
			tr := &fakeTransport{writeLimit: limit}
			d := &fakeDialer{transports: []*fakeTransport{tr}}
			b := New(d.dial, newRecorder(), Options{Loop: fastLoop(), Logger: zerolog.Nop()})
			ctx := context.Background()

			if _, err := b.Connect(ctx, localRequest()); err != nil {
				return false
			}
			for _, c := range chunks {
				if err := b.Send(ctx, []byte(c)); err != nil {
					return false
				}
			}

			want := strings.Join(chunks, "")
			deadline := time.Now().Add(2 * time.Second)
			for tr.Written() != want && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			_ = b.Disconnect(ctx)
			return tr.Written() == want
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}

func TestBridge_PartialWrites(t *testing.T) {
	tr := &fakeTransport{writeLimit: 2}
	b, _, _ := newTestBridge(t, fastLoop(), tr)
	ctx := context.Background()

	_, err := b.Connect(ctx, localRequest())
	require.NoError(t, err)
	require.NoError(t, b.Send(ctx, []byte("abcdefg")))

	require.Eventually(t, func() bool { return tr.Written() == "abcdefg" }, time.Second, time.Millisecond)
	tr.set(func(f *fakeTransport) {
		assert.GreaterOrEqual(t, f.writeCalls, 4)
	})
}

func TestBridge_WouldBlockTolerance(t *testing.T) {
	tr := &fakeTransport{writeBlocked: true}
	b, rec, _ := newTestBridge(t, fastLoop(), tr)
	ctx := context.Background()

	_, err := b.Connect(ctx, localRequest())
	require.NoError(t, err)
	require.NoError(t, b.Send(ctx, []byte("queued")))

	// Many cycles pass with every read and write blocked.
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, rec.Log())
	assert.True(t, b.IsConnected())
	assert.Empty(t, tr.Written())
	tr.set(func(f *fakeTransport) {
		assert.Greater(t, f.writeCalls, 5)
	})

	tr.set(func(f *fakeTransport) { f.writeBlocked = false })
	require.Eventually(t, func() bool { return tr.Written() == "queued" }, time.Second, time.Millisecond)
}

func TestBridge_GracefulRemoteClose(t *testing.T) {
	tr := &fakeTransport{}
	b, rec, _ := newTestBridge(t, fastLoop(), tr)

	_, err := b.Connect(context.Background(), localRequest())
	require.NoError(t, err)

	tr.push("last words\r\n")
	tr.set(func(f *fakeTransport) { f.eof = true })

	assert.Equal(t, MsgRemoteClosed, rec.waitClosed(t))
	require.Eventually(t, func() bool { return !b.IsConnected() }, time.Second, time.Millisecond)

	assert.Equal(t, "last words\r\n", rec.Text())
	assert.Equal(t, []string{MsgRemoteClosed}, rec.ClosedMessages())

	closeWrite, closeCalls, wait := tr.closes()
	assert.Equal(t, 1, closeWrite)
	assert.Equal(t, 1, closeCalls)
	assert.Equal(t, 1, wait)

	// A later disconnect finds nothing to do.
	assert.NoError(t, b.Disconnect(context.Background()))
	assert.Len(t, rec.ClosedMessages(), 1)
}

func TestBridge_ZeroReadWithoutEOF(t *testing.T) {
	tr := &fakeTransport{}
	b, rec, _ := newTestBridge(t, fastLoop(), tr)

	_, err := b.Connect(context.Background(), localRequest())
	require.NoError(t, err)
	tr.set(func(f *fakeTransport) { f.zeroRead = true })

	assert.Equal(t, MsgUnexpectedClosed, rec.waitClosed(t))
	require.Eventually(t, func() bool { return !b.IsConnected() }, time.Second, time.Millisecond)
}

func TestBridge_TransportErrors(t *testing.T) {
	t.Run("read error is fatal", func(t *testing.T) {
		tr := &fakeTransport{}
		b, rec, _ := newTestBridge(t, fastLoop(), tr)
		_, err := b.Connect(context.Background(), localRequest())
		require.NoError(t, err)

		tr.set(func(f *fakeTransport) { f.readErr = errors.New("connection reset") })

		msg := rec.waitClosed(t)
		assert.Contains(t, msg, "connection reset")
		assert.Equal(t, []string{"read: connection reset"}, rec.Errors())
		require.Eventually(t, func() bool { return !b.IsConnected() }, time.Second, time.Millisecond)
	})

	t.Run("write error is fatal", func(t *testing.T) {
		tr := &fakeTransport{writeErr: errors.New("broken pipe")}
		b, rec, _ := newTestBridge(t, fastLoop(), tr)
		ctx := context.Background()
		_, err := b.Connect(ctx, localRequest())
		require.NoError(t, err)

		require.NoError(t, b.Send(ctx, []byte("x")))

		msg := rec.waitClosed(t)
		assert.Contains(t, msg, "broken pipe")
		assert.Contains(t, rec.Errors(), "write: broken pipe")
		require.Eventually(t, func() bool { return !b.IsConnected() }, time.Second, time.Millisecond)
	})

	t.Run("flush error is not fatal", func(t *testing.T) {
		tr := &fakeTransport{flushErr: errors.New("sync failed")}
		b, rec, _ := newTestBridge(t, fastLoop(), tr)
		ctx := context.Background()
		_, err := b.Connect(ctx, localRequest())
		require.NoError(t, err)

		require.NoError(t, b.Send(ctx, []byte("x")))

		require.Eventually(t, func() bool { return len(rec.Errors()) > 0 }, time.Second, time.Millisecond)
		assert.Equal(t, "flush: sync failed", rec.Errors()[0])
		assert.True(t, b.IsConnected())
		assert.Empty(t, rec.ClosedMessages())
	})
}

func TestBridge_Resize(t *testing.T) {
	tr := &fakeTransport{}
	b, _, _ := newTestBridge(t, fastLoop(), tr)
	ctx := context.Background()

	_, err := b.Connect(ctx, localRequest())
	require.NoError(t, err)
	require.NoError(t, b.Resize(ctx, 50, 132))

	require.Eventually(t, func() bool {
		var got [][2]uint16
		tr.set(func(f *fakeTransport) { got = append(got, f.resizes...) })
		return len(got) == 1 && got[0] == [2]uint16{50, 132}
	}, time.Second, time.Millisecond)
}

func TestBridge_SingletonInvariant(t *testing.T) {
	first, second := &fakeTransport{}, &fakeTransport{}
	b, rec, d := newTestBridge(t, fastLoop(), first, second)
	ctx := context.Background()

	var firstClosedBeforeSecondDial bool
	d.onDial = func(call int) {
		if call == 2 {
			_, closeCalls, _ := first.closes()
			firstClosedBeforeSecondDial = closeCalls == 1 && len(rec.ClosedMessages()) == 1
		}
	}

	info1, err := b.Connect(ctx, localRequest())
	require.NoError(t, err)
	info2, err := b.Connect(ctx, localRequest())
	require.NoError(t, err)

	assert.True(t, firstClosedBeforeSecondDial, "first session must be torn down before the second is dialed")
	assert.NotEqual(t, info1.ID, info2.ID)
	assert.Greater(t, info2.Serial, info1.Serial)

	current, ok := b.Info()
	require.True(t, ok)
	assert.Equal(t, info2.ID, current.ID)
	assert.Equal(t, []string{MsgDisconnected}, rec.ClosedMessages())
}

func TestBridge_DisconnectIdempotent(t *testing.T) {
	tr := &fakeTransport{}
	b, rec, _ := newTestBridge(t, fastLoop(), tr)
	ctx := context.Background()

	_, err := b.Connect(ctx, localRequest())
	require.NoError(t, err)

	assert.NoError(t, b.Disconnect(ctx))
	assert.NoError(t, b.Disconnect(ctx))

	assert.False(t, b.IsConnected())
	assert.Equal(t, []string{MsgDisconnected}, rec.ClosedMessages())
	_, closeCalls, _ := tr.closes()
	assert.Equal(t, 1, closeCalls)
	assert.ErrorIs(t, b.Send(ctx, []byte("late")), model.ErrNotConnected)
}

func TestBridge_DisconnectFlushesPendingWrites(t *testing.T) {
	tr := &fakeTransport{}
	cfg := fastLoop()
	cfg.FlushInterval = time.Hour
	b, _, _ := newTestBridge(t, cfg, tr)
	ctx := context.Background()

	_, err := b.Connect(ctx, localRequest())
	require.NoError(t, err)
	require.NoError(t, b.Send(ctx, []byte("exit\n")))

	require.NoError(t, b.Disconnect(ctx))
	assert.Equal(t, "exit\n", tr.Written())
}

func TestBridge_DisconnectReportsAbnormalTermination(t *testing.T) {
	tr := &fakeTransport{writePanic: true}
	cfg := fastLoop()
	cfg.FlushInterval = time.Hour
	b, rec, _ := newTestBridge(t, cfg, tr)
	ctx := context.Background()

	_, err := b.Connect(ctx, localRequest())
	require.NoError(t, err)
	require.NoError(t, b.Send(ctx, []byte("x")))

	err = b.Disconnect(ctx)

	var te *model.TeardownError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "write exploded", te.Panic)
	assert.Len(t, rec.ClosedMessages(), 1)
	_, closeCalls, _ := tr.closes()
	assert.Equal(t, 1, closeCalls, "transport released despite the panic")
	assert.False(t, b.IsConnected())
}

func TestBridge_DecodesSplitRunes(t *testing.T) {
	tr := &fakeTransport{}
	b, rec, _ := newTestBridge(t, fastLoop(), tr)

	_, err := b.Connect(context.Background(), localRequest())
	require.NoError(t, err)

	// "héllo" with the two bytes of é in separate reads.
	tr.push("h\xc3")
	tr.push("\xa9llo")
	tr.set(func(f *fakeTransport) { f.eof = true })

	rec.waitClosed(t)
	assert.Equal(t, "héllo", rec.Text())
	assert.Empty(t, rec.Errors())
}

func TestBridge_ConcurrentSenders(t *testing.T) {
	tr := &fakeTransport{}
	b, _, _ := newTestBridge(t, fastLoop(), tr)
	ctx := context.Background()

	_, err := b.Connect(ctx, localRequest())
	require.NoError(t, err)

	// Each write is "<sender><seq>;" so per-sender order can be checked.
	const senders, perSender = 8, 50
	errs := make(chan error, senders)
	for i := 0; i < senders; i++ {
		go func(letter byte) {
			for j := 0; j < perSender; j++ {
				if err := b.Send(ctx, []byte(fmt.Sprintf("%c%03d;", letter, j))); err != nil {
					errs <- err
					return
				}
			}
			errs <- nil
		}(byte('a' + i))
	}
	for i := 0; i < senders; i++ {
		require.NoError(t, <-errs)
	}

	const recordLen = 5
	require.Eventually(t, func() bool { return len(tr.Written()) == senders*perSender*recordLen }, 2*time.Second, time.Millisecond)

	next := make(map[byte]int)
	for _, rec := range strings.Split(strings.TrimSuffix(tr.Written(), ";"), ";") {
		require.Len(t, rec, recordLen-1, "records are never interleaved")
		seq, err := strconv.Atoi(rec[1:])
		require.NoError(t, err)
		require.Equal(t, next[rec[0]], seq, "sender %c out of order", rec[0])
		next[rec[0]]++
	}
	for i := 0; i < senders; i++ {
		assert.Equal(t, perSender, next[byte('a'+i)])
	}
}

// pumpTransport runs a real Pump over an idle reader and the given writer.
type pumpTransport struct {
	*transport.Pump
	stdin *io.PipeWriter
}

func newPumpTransport(w io.Writer) *pumpTransport {
	pr, pw := io.Pipe()
	return &pumpTransport{Pump: transport.NewPump(pr, w, 0), stdin: pw}
}

func (p *pumpTransport) Resize(rows, cols uint16) error { return nil }
func (p *pumpTransport) CloseWrite() error              { return nil }
func (p *pumpTransport) WaitClosed() error              { return nil }

func (p *pumpTransport) Close() error {
	p.Stop()
	return p.stdin.Close()
}

type resetWriter struct{}

func (resetWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestBridge_PumpWriteFailure(t *testing.T) {
	for _, inputs := range [][]string{{"x"}, {"x", "y", "z"}} {
		t.Run(strings.Join(inputs, ""), func(t *testing.T) {
			tr := newPumpTransport(resetWriter{})
			rec := newRecorder()
			dial := func(context.Context, model.ConnectRequest) (transport.Transport, error) { return tr, nil }
			b := New(dial, rec, Options{Loop: fastLoop(), Logger: zerolog.Nop()})
			t.Cleanup(func() { _ = b.Close() })

			ctx := context.Background()
			_, err := b.Connect(ctx, localRequest())
			require.NoError(t, err)
			for _, in := range inputs {
				// Later sends may race with the shutdown.
				_ = b.Send(ctx, []byte(in))
			}

			assert.Equal(t, "write failed: connection reset", rec.waitClosed(t))
			assert.Equal(t, []string{"write: connection reset"}, rec.Errors(), "one failure, one error")
			require.Eventually(t, func() bool { return !b.IsConnected() }, time.Second, time.Millisecond)
		})
	}
}
