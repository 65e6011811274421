package transport

import (
	"bytes"
	"io"
	"sync"
)

const (
	// DefaultInboundLimit bounds bytes read ahead from the stream but not yet consumed.
	DefaultInboundLimit = 64 * 1024

	// DefaultChunkSize bounds the bytes accepted by a single Write.
	DefaultChunkSize = 32 * 1024

	readAheadSize = 4096
)

// Pump adapts a blocking reader/writer pair into the non-blocking half of
// the Transport contract. A reader goroutine reads ahead into a bounded
// buffer; a writer goroutine transmits one accepted chunk at a time.
type Pump struct {
	r io.Reader
	w io.Writer

	inboundLimit int
	chunkSize    int

	mu       sync.Mutex
	space    *sync.Cond
	inbound  bytes.Buffer
	readErr  error
	busy     bool
	writeErr error
	closed   bool

	writeCh   chan []byte
	closeOnce sync.Once
}

// NewPump starts the read-ahead and writer goroutines for r and w.
func NewPump(r io.Reader, w io.Writer, inboundLimit int) *Pump {
	if inboundLimit <= 0 {
		inboundLimit = DefaultInboundLimit
	}
	p := &Pump{
		r:            r,
		w:            w,
		inboundLimit: inboundLimit,
		chunkSize:    DefaultChunkSize,
		writeCh:      make(chan []byte, 1),
	}
	p.space = sync.NewCond(&p.mu)

	go p.readLoop()
	go p.writeLoop()

	return p
}

func (p *Pump) readLoop() {
	buf := make([]byte, readAheadSize)
	for {
		p.mu.Lock()
		for p.inbound.Len() >= p.inboundLimit && !p.closed {
			p.space.Wait()
		}
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}

		n, err := p.r.Read(buf)

		p.mu.Lock()
		if n > 0 {
			p.inbound.Write(buf[:n])
		}
		if err != nil {
			p.readErr = err
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
	}
}

func (p *Pump) writeLoop() {
	for chunk := range p.writeCh {
		var err error
		for len(chunk) > 0 && err == nil {
			var n int
			n, err = p.w.Write(chunk)
			chunk = chunk[n:]
		}

		p.mu.Lock()
		p.busy = false
		if err != nil && p.writeErr == nil {
			p.writeErr = err
		}
		p.mu.Unlock()
	}
}

// Read returns buffered inbound bytes, or ErrWouldBlock if none are
// buffered and the stream is still open.
func (p *Pump) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inbound.Len() > 0 {
		n, _ := p.inbound.Read(b)
		p.space.Signal()
		return n, nil
	}
	switch {
	case p.readErr == io.EOF:
		return 0, nil
	case p.readErr != nil:
		return 0, p.readErr
	}
	return 0, ErrWouldBlock
}

// EOF reports whether the stream ended and every inbound byte was consumed.
func (p *Pump) EOF() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readErr == io.EOF && p.inbound.Len() == 0
}

// Write hands up to one chunk of b to the writer goroutine. It returns
// ErrWouldBlock while a previous chunk is still being transmitted.
func (p *Pump) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	if p.busy {
		return 0, ErrWouldBlock
	}

	n := min(len(b), p.chunkSize)
	chunk := make([]byte, n)
	copy(chunk, b)

	p.busy = true
	p.writeCh <- chunk
	return n, nil
}

// Flush reports ErrWouldBlock while accepted bytes are in flight, or a
// *WriteError if transmission failed.
func (p *Pump) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writeErr != nil {
		return &WriteError{Err: p.writeErr}
	}
	if p.busy {
		return ErrWouldBlock
	}
	return nil
}

// Stop releases the pump goroutines. The reader goroutine exits once the
// underlying reader returns, which the owner forces by closing the stream.
func (p *Pump) Stop() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.space.Broadcast()
		p.mu.Unlock()
		close(p.writeCh)
	})
}
