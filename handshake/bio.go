package handshake

import (
	"bytes"
	"io"
	"sync"
)

// BIO is an unbounded in-memory byte pipe.  Writes never block.
type BIO struct {
	mu  sync.Mutex
	buf bytes.Buffer
	eof bool
}

// Write appends p.  It fails after WriteEOF.
func (b *BIO) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.eof {
		return 0, ErrBIOClosed
	}
	return b.buf.Write(p)
}

// Read consumes up to len(p) buffered bytes.  With nothing buffered it
// returns io.EOF after WriteEOF and ErrBIOEmpty otherwise.
func (b *BIO) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() == 0 {
		if b.eof {
			return 0, io.EOF
		}
		if len(p) == 0 {
			return 0, nil
		}
		return 0, ErrBIOEmpty
	}
	return b.buf.Read(p)
}

// Drain removes and returns every buffered byte.
func (b *BIO) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() == 0 {
		return nil
	}
	out := bytes.Clone(b.buf.Bytes())
	b.buf.Reset()
	return out
}

// Pending returns the number of buffered bytes.
func (b *BIO) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// WriteEOF marks the end of input.  Buffered bytes stay readable.
func (b *BIO) WriteEOF() {
	b.mu.Lock()
	b.eof = true
	b.mu.Unlock()
}

// EOF reports whether WriteEOF was called and every byte was read.
func (b *BIO) EOF() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eof && b.buf.Len() == 0
}
