package handshake

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	utls "github.com/refraction-networking/utls"
)

// UTLSEngine runs a uTLS client connection whose transport is a pair of
// BIOs.  Every blocking uTLS call executes as a coroutine that hands control
// back whenever the incoming BIO runs dry or a record is queued.
type UTLSEngine struct {
	uconn *utls.UConn
	link  *bioConn
}

// NewUTLSEngine builds the uTLS connection for one handshake.  config is
// used as is; callers pass a per-connection clone.
func NewUTLSEngine(in, out *BIO, config *utls.Config, spec *utls.ClientHelloSpec, local, remote net.Addr) (*UTLSEngine, error) {
	link := &bioConn{in: in, out: out, local: local, remote: remote}
	uconn := utls.UClient(link, config, utls.HelloCustom)
	if err := uconn.ApplyPreset(spec); err != nil {
		return nil, err
	}
	return &UTLSEngine{uconn: uconn, link: link}, nil
}

func (e *UTLSEngine) Handshake() Operation {
	return e.link.spawn(func() (Step, error) {
		if err := e.uconn.Handshake(); err != nil {
			return Step{}, err
		}
		return Step{Kind: Done}, nil
	})
}

func (e *UTLSEngine) Read(max int) Operation {
	return e.link.spawn(func() (Step, error) {
		buf := make([]byte, max)
		n, err := e.uconn.Read(buf)
		return Step{Kind: Done, N: n, Data: buf[:n]}, err
	})
}

func (e *UTLSEngine) Write(p []byte) Operation {
	return e.link.spawn(func() (Step, error) {
		n, err := e.uconn.Write(p)
		return Step{Kind: Done, N: n}, err
	})
}

func (e *UTLSEngine) CloseNotify() Operation {
	return e.link.spawn(func() (Step, error) {
		if err := e.uconn.CloseWrite(); err != nil {
			return Step{}, err
		}
		return Step{Kind: Done}, nil
	})
}

// ConnectionState returns the negotiated parameters.
func (e *UTLSEngine) ConnectionState() utls.ConnectionState {
	return e.uconn.ConnectionState()
}

type event struct {
	step  Step
	err   error
	final bool
}

// coroutine runs fn on its own goroutine but only ever lets one side run:
// Next blocks until fn suspends or returns, and fn blocks in suspend until
// the next Next.
type coroutine struct {
	link *bioConn
	fn   func() (Step, error)

	started  bool
	finished bool
	resume   chan struct{}
	yield    chan event
	aborted  chan struct{}
	once     sync.Once
}

func (l *bioConn) spawn(fn func() (Step, error)) *coroutine {
	return &coroutine{
		link:    l,
		fn:      fn,
		resume:  make(chan struct{}),
		yield:   make(chan event),
		aborted: make(chan struct{}),
	}
}

func (c *coroutine) Next() (Step, error) {
	if c.finished {
		return Step{}, ErrOperationFinished
	}
	c.link.active.Store(c)
	if !c.started {
		c.started = true
		go c.run()
	} else {
		select {
		case c.resume <- struct{}{}:
		case <-c.aborted:
			c.finished = true
			return Step{}, ErrAdapterClosed
		}
	}
	select {
	case ev := <-c.yield:
		if ev.final {
			c.finished = true
		}
		return ev.step, ev.err
	case <-c.aborted:
		c.finished = true
		return Step{}, ErrAdapterClosed
	}
}

func (c *coroutine) Abort() {
	c.once.Do(func() { close(c.aborted) })
}

func (c *coroutine) run() {
	st, err := c.fn()
	select {
	case c.yield <- event{step: st, err: err, final: true}:
	case <-c.aborted:
	}
}

// suspend hands st to the caller of Next and waits to be resumed.
func (c *coroutine) suspend(st Step) error {
	select {
	case c.yield <- event{step: st}:
	case <-c.aborted:
		return net.ErrClosed
	}
	select {
	case <-c.resume:
		return nil
	case <-c.aborted:
		return net.ErrClosed
	}
}

// bioConn is the net.Conn uTLS sees.
type bioConn struct {
	in, out       *BIO
	local, remote net.Addr
	active        atomic.Pointer[coroutine]
}

func (l *bioConn) current() (*coroutine, error) {
	c := l.active.Load()
	if c == nil {
		return nil, errors.New("handshake: engine used outside an operation")
	}
	return c, nil
}

func (l *bioConn) Read(p []byte) (int, error) {
	for {
		n, err := l.in.Read(p)
		if !errors.Is(err, ErrBIOEmpty) {
			return n, err
		}
		c, err := l.current()
		if err != nil {
			return 0, err
		}
		if err := c.suspend(Step{Kind: NeedMoreInput}); err != nil {
			return 0, err
		}
	}
}

func (l *bioConn) Write(p []byte) (int, error) {
	n, err := l.out.Write(p)
	if err != nil {
		return n, err
	}
	c, err := l.current()
	if err != nil {
		return n, err
	}
	if err := c.suspend(Step{Kind: Progressed, N: n}); err != nil {
		return n, err
	}
	return n, nil
}

func (l *bioConn) Close() error { return nil }

func (l *bioConn) LocalAddr() net.Addr  { return l.local }
func (l *bioConn) RemoteAddr() net.Addr { return l.remote }

func (l *bioConn) SetDeadline(time.Time) error      { return nil }
func (l *bioConn) SetReadDeadline(time.Time) error  { return nil }
func (l *bioConn) SetWriteDeadline(time.Time) error { return nil }
