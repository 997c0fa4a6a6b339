package handshake

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	utls "github.com/refraction-networking/utls"

	"github.com/firasghr/GoImpersonate/fingerprint"
)

const (
	transportReadSize  = 16 << 10
	closeNotifyTimeout = 5 * time.Second
)

var aLongTimeAgo = time.Unix(1, 0)

// Conn is a TLS client connection driven through an Adapter.  It satisfies
// net.Conn; Read and Write may be called from different goroutines.
type Conn struct {
	transport net.Conn
	in, out   *BIO
	engine    *UTLSEngine
	adapter   *Adapter

	handshakeMu   sync.Mutex
	handshakeDone atomic.Bool
	handshakeErr  error

	// opMu is held while an engine operation runs; it is released only
	// while waiting on the transport for input.
	opMu     sync.Mutex
	readMu   sync.Mutex
	pending  []byte
	writeErr error
	rbuf     []byte

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps transport with a uTLS client using spec.  config must carry
// a ServerName or set InsecureSkipVerify; it is cloned.
func NewConn(transport net.Conn, config *utls.Config, spec *utls.ClientHelloSpec) (*Conn, error) {
	c := &Conn{
		transport: transport,
		in:        new(BIO),
		out:       new(BIO),
		rbuf:      make([]byte, transportReadSize),
	}
	engine, err := NewUTLSEngine(c.in, c.out, config.Clone(), spec, transport.LocalAddr(), transport.RemoteAddr())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fingerprint.ErrInvalidTLSConfiguration, err)
	}
	c.engine = engine
	c.adapter = NewAdapter(engine)
	return c, nil
}

// Handshake runs the client handshake if it has not run yet.
func (c *Conn) Handshake() error {
	return c.HandshakeContext(context.Background())
}

// HandshakeContext runs the client handshake.  Cancelling ctx interrupts the
// transport and fails the handshake with ctx's error.  The outcome is
// sticky.
func (c *Conn) HandshakeContext(ctx context.Context) error {
	if c.handshakeDone.Load() {
		return c.handshakeErr
	}
	c.handshakeMu.Lock()
	defer c.handshakeMu.Unlock()
	if c.handshakeDone.Load() {
		return c.handshakeErr
	}

	stop := func() bool { return true }
	if ctx.Done() != nil {
		stop = context.AfterFunc(ctx, func() {
			_ = c.transport.SetDeadline(aLongTimeAgo)
		})
	}
	_, err := c.drive(c.adapter.Handshake)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	c.handshakeErr = err
	c.handshakeDone.Store(true)
	return err
}

// Read reads decrypted application data.
func (c *Conn) Read(p []byte) (int, error) {
	if err := c.Handshake(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	st, err := c.drive(func() (Step, error) { return c.adapter.Read(len(p)) })
	n := copy(p, st.Data)
	if n < len(st.Data) {
		c.pending = append(c.pending[:0], st.Data[n:]...)
	}
	return n, err
}

// Write encrypts and sends p.
func (c *Conn) Write(p []byte) (int, error) {
	if err := c.Handshake(); err != nil {
		return 0, err
	}
	st, err := c.drive(func() (Step, error) { return c.adapter.Write(p) })
	return st.N, err
}

// drive repeats call until its operation completes, moving bytes between the
// BIOs and the transport after every step.
func (c *Conn) drive(call func() (Step, error)) (Step, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	for {
		st, err := call()
		if ferr := c.flush(); ferr != nil {
			return st, ferr
		}
		switch {
		case errors.Is(err, ErrWantRead):
			c.opMu.Unlock()
			ferr := c.fill()
			c.opMu.Lock()
			if ferr != nil {
				return Step{}, ferr
			}
		case errors.Is(err, ErrAdapterClosed):
			return st, net.ErrClosed
		case err != nil:
			return st, err
		case st.Kind == Done:
			return st, nil
		}
	}
}

func (c *Conn) flush() error {
	if c.writeErr != nil {
		return c.writeErr
	}
	data := c.out.Drain()
	if len(data) == 0 {
		return nil
	}
	if _, err := c.transport.Write(data); err != nil {
		c.writeErr = err
		return err
	}
	return nil
}

func (c *Conn) fill() error {
	n, err := c.transport.Read(c.rbuf)
	if n > 0 {
		if _, werr := c.in.Write(c.rbuf[:n]); werr != nil {
			return werr
		}
	}
	switch {
	case errors.Is(err, io.EOF):
		c.in.WriteEOF()
		return nil
	case err != nil && n == 0:
		return err
	}
	return nil
}

// Close sends close_notify when the engine is idle, aborts any operation in
// progress and closes the transport.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.sendCloseNotify()
		c.adapter.Close()
		c.closeErr = c.transport.Close()
	})
	return c.closeErr
}

// sendCloseNotify writes the alert on a best-effort basis.  It is skipped
// when the handshake did not succeed, when another operation holds the
// engine, or when an earlier write left a record half sent.
func (c *Conn) sendCloseNotify() {
	if !c.handshakeDone.Load() || c.handshakeErr != nil {
		return
	}
	if !c.opMu.TryLock() {
		return
	}
	defer c.opMu.Unlock()
	if c.writeErr != nil {
		return
	}
	if s := c.adapter.State(OpWrite); s != NotStarted && s != Complete {
		return
	}
	_ = c.transport.SetWriteDeadline(time.Now().Add(closeNotifyTimeout))
	for {
		st, err := c.adapter.CloseNotify()
		if c.flush() != nil || err != nil || st.Kind == Done {
			return
		}
	}
}

// ConnectionState reports the negotiated parameters in crypto/tls form so
// net/http can fill Response.TLS.
func (c *Conn) ConnectionState() tls.ConnectionState {
	s := c.engine.ConnectionState()
	return tls.ConnectionState{
		Version:            s.Version,
		HandshakeComplete:  s.HandshakeComplete,
		DidResume:          s.DidResume,
		CipherSuite:        s.CipherSuite,
		NegotiatedProtocol: s.NegotiatedProtocol,
		ServerName:         s.ServerName,
		PeerCertificates:   s.PeerCertificates,
		VerifiedChains:     s.VerifiedChains,
	}
}

// NegotiatedProtocol returns the ALPN result, empty when none was agreed.
func (c *Conn) NegotiatedProtocol() string {
	return c.engine.ConnectionState().NegotiatedProtocol
}

// NetConn returns the underlying transport.
func (c *Conn) NetConn() net.Conn { return c.transport }

func (c *Conn) LocalAddr() net.Addr  { return c.transport.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.transport.RemoteAddr() }

func (c *Conn) SetDeadline(t time.Time) error      { return c.transport.SetDeadline(t) }
func (c *Conn) SetReadDeadline(t time.Time) error  { return c.transport.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.transport.SetWriteDeadline(t) }
