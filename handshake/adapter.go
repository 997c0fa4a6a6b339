package handshake

import "sync"

// OpKind names one of the logical operations.
type OpKind int

const (
	OpHandshake OpKind = iota
	OpRead
	OpWrite
	OpCloseNotify
	numOps
)

func (k OpKind) String() string {
	switch k {
	case OpHandshake:
		return "handshake"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpCloseNotify:
		return "close-notify"
	default:
		return "invalid"
	}
}

// State is the lifecycle position of one logical operation.
type State int

const (
	NotStarted State = iota
	AwaitingInput
	OutputReady
	Complete
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case AwaitingInput:
		return "awaiting-input"
	case OutputReady:
		return "output-ready"
	case Complete:
		return "complete"
	default:
		return "invalid"
	}
}

type machine struct {
	op    Operation
	state State
}

// Adapter maps an Engine's step protocol onto would-block semantics.
//
// A call that finds an operation of the same kind in progress resumes it;
// the arguments of the retry are ignored.  A fresh operation is started only
// once the previous one of that kind is Complete.
type Adapter struct {
	engine Engine

	mu     sync.Mutex
	ops    [numOps]*machine
	closed bool
}

// NewAdapter wraps engine.
func NewAdapter(engine Engine) *Adapter {
	return &Adapter{engine: engine}
}

// Handshake starts or resumes the handshake.
func (a *Adapter) Handshake() (Step, error) {
	return a.step(OpHandshake, a.engine.Handshake)
}

// Read starts or resumes a read of at most max plaintext bytes.
func (a *Adapter) Read(max int) (Step, error) {
	return a.step(OpRead, func() Operation { return a.engine.Read(max) })
}

// Write starts or resumes a write of p.
func (a *Adapter) Write(p []byte) (Step, error) {
	return a.step(OpWrite, func() Operation { return a.engine.Write(p) })
}

// CloseNotify starts or resumes sending the close_notify alert.
func (a *Adapter) CloseNotify() (Step, error) {
	return a.step(OpCloseNotify, a.engine.CloseNotify)
}

// State reports where the operation of the given kind stands.
func (a *Adapter) State(kind OpKind) State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m := a.ops[kind]; m != nil {
		return m.state
	}
	return NotStarted
}

// Close aborts every operation still in progress.  Aborted operations are
// never resumed and every later call returns ErrAdapterClosed.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for _, m := range a.ops {
		if m != nil && m.state != Complete {
			m.op.Abort()
			m.state = Complete
		}
	}
}

// Closed reports whether Close was called.
func (a *Adapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Adapter) step(kind OpKind, start func() Operation) (Step, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return Step{}, ErrAdapterClosed
	}
	m := a.ops[kind]
	if m == nil || m.state == Complete {
		m = &machine{op: start()}
		a.ops[kind] = m
	}
	a.mu.Unlock()

	st, err := m.op.Next()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return Step{}, ErrAdapterClosed
	}
	switch {
	case err != nil:
		m.state = Complete
		return st, err
	case st.Kind == NeedMoreInput:
		m.state = AwaitingInput
		return st, ErrWantRead
	case st.Kind == Done:
		m.state = Complete
		return st, nil
	default:
		m.state = OutputReady
		return st, nil
	}
}
