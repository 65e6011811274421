package bridge

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/remote-agent-terminal/shellbridge/internal/model"
	"github.com/remote-agent-terminal/shellbridge/internal/transport"
)

// fakeTransport is a scriptable in-memory Transport.
type fakeTransport struct {
	mu sync.Mutex

	inbound  [][]byte
	eof      bool
	zeroRead bool
	readErr  error

	written      bytes.Buffer
	writeCalls   int
	writeLimit   int
	writeBlocked bool
	writeErr     error
	writePanic   bool
	flushErr     error

	resizes []([2]uint16)

	closeWriteCalls int
	closeCalls      int
	waitCalls       int
	closedAt        time.Time
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.inbound) > 0 {
		n := copy(p, f.inbound[0])
		if n == len(f.inbound[0]) {
			f.inbound = f.inbound[1:]
		} else {
			f.inbound[0] = f.inbound[0][n:]
		}
		return n, nil
	}
	switch {
	case f.readErr != nil:
		return 0, f.readErr
	case f.eof, f.zeroRead:
		return 0, nil
	}
	return 0, transport.ErrWouldBlock
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writeCalls++
	if f.writePanic {
		panic("write exploded")
	}
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	if f.writeBlocked {
		return 0, transport.ErrWouldBlock
	}
	n := len(p)
	if f.writeLimit > 0 && n > f.writeLimit {
		n = f.writeLimit
	}
	f.written.Write(p[:n])
	return n, nil
}

func (f *fakeTransport) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushErr
}

func (f *fakeTransport) EOF() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eof && len(f.inbound) == 0
}

func (f *fakeTransport) Resize(rows, cols uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, [2]uint16{rows, cols})
	return nil
}

func (f *fakeTransport) CloseWrite() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeWriteCalls++
	return errors.New("already half-closed")
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.closedAt = time.Now()
	return nil
}

func (f *fakeTransport) WaitClosed() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitCalls++
	return nil
}

func (f *fakeTransport) push(data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, []byte(data))
}

func (f *fakeTransport) set(fn func(f *fakeTransport)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeTransport) Written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

func (f *fakeTransport) closes() (closeWrite, closeCalls, wait int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeWriteCalls, f.closeCalls, f.waitCalls
}

// recorder is a Notifier that keeps every notification in order.
type recorder struct {
	mu     sync.Mutex
	log    []string
	output bytes.Buffer
	errors []string
	closed []string
	done   chan string
}

func newRecorder() *recorder {
	return &recorder{done: make(chan string, 16)}
}

func (r *recorder) Output(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, "output:"+text)
	r.output.WriteString(text)
}

func (r *recorder) Error(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, "error:"+message)
	r.errors = append(r.errors, message)
}

func (r *recorder) Closed(message string) {
	r.mu.Lock()
	r.log = append(r.log, "closed:"+message)
	r.closed = append(r.closed, message)
	r.mu.Unlock()
	r.done <- message
}

func (r *recorder) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output.String()
}

func (r *recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

func (r *recorder) ClosedMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.closed...)
}

func (r *recorder) Log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func (r *recorder) waitClosed(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-r.done:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for closed notification")
		return ""
	}
}

// fastLoop keeps test cycles short.
func fastLoop() LoopConfig {
	return LoopConfig{FlushInterval: time.Millisecond, IdleSleep: time.Millisecond}
}

// fakeDialer hands out the given transports in order.
type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	calls      int
	err        error
	onDial     func(call int)
}

func (d *fakeDialer) dial(ctx context.Context, req model.ConnectRequest) (transport.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	if d.onDial != nil {
		d.onDial(d.calls)
	}
	if d.err != nil {
		return nil, d.err
	}
	tr := d.transports[0]
	d.transports = d.transports[1:]
	return tr, nil
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func newTestBridge(t *testing.T, cfg LoopConfig, transports ...*fakeTransport) (*Bridge, *recorder, *fakeDialer) {
	t.Helper()
	rec := newRecorder()
	d := &fakeDialer{transports: transports}
	b := New(d.dial, rec, Options{Loop: cfg, Logger: zerolog.Nop()})
	t.Cleanup(func() { _ = b.Close() })
	return b, rec, d
}

func localRequest() model.ConnectRequest {
	return model.ConnectRequest{Kind: model.TransportLocal, Shell: "/bin/sh"}
}
