// Package handshake runs a uTLS client handshake, and the record layer after
// it, as a resumable step machine over in-memory buffers.
//
// The engine never touches the network.  It consumes bytes from an incoming
// BIO and produces bytes into an outgoing BIO, and each operation (handshake,
// read, write) advances in steps:
//
//   - NeedMoreInput: the incoming BIO ran dry; feed it and call again.
//   - Progressed: output was queued; flush it and call again.
//   - Done: the operation finished.
//
// Adapter turns those steps into the would-block convention of an async
// I/O layer: NeedMoreInput surfaces as ErrWantRead, everything else is
// returned to the caller, and a retried call resumes the operation in
// progress instead of restarting it.  Conn drives an Adapter over a real
// transport and implements net.Conn.
package handshake

import "errors"

// StepKind classifies one step of an operation.
type StepKind int

const (
	// NeedMoreInput means the operation cannot continue until more
	// transport bytes are written to the incoming BIO.
	NeedMoreInput StepKind = iota + 1
	// Progressed means the operation produced output; call again to
	// continue.
	Progressed
	// Done means the operation completed.
	Done
)

func (k StepKind) String() string {
	switch k {
	case NeedMoreInput:
		return "need-more-input"
	case Progressed:
		return "progressed"
	case Done:
		return "done"
	default:
		return "invalid"
	}
}

// Step is the result of advancing an operation once.
type Step struct {
	Kind StepKind
	// N is the number of bytes queued (Progressed) or the operation's byte
	// count (Done of a read or write).
	N int
	// Data holds plaintext returned by a completed read.
	Data []byte
}

// Operation is a lazily advanced step sequence.  Next must not be called
// concurrently with itself.
type Operation interface {
	// Next advances the operation to its next step.  An error ends the
	// operation.
	Next() (Step, error)
	// Abort tears the operation down without resuming it.
	Abort()
}

// Engine starts operations.  Only one operation of each kind is in progress
// at a time; the Adapter enforces that.
type Engine interface {
	Handshake() Operation
	Read(max int) Operation
	Write(p []byte) Operation
	// CloseNotify sends the close_notify alert.
	CloseNotify() Operation
}

var (
	// ErrWantRead means the call must be retried once more transport input
	// has been fed to the engine.
	ErrWantRead = errors.New("handshake: want read")

	// ErrAdapterClosed is returned by every call after Close.
	ErrAdapterClosed = errors.New("handshake: adapter closed")

	// ErrOperationFinished is returned by Next on a finished operation.
	ErrOperationFinished = errors.New("handshake: operation already finished")

	// ErrBIOEmpty is returned by BIO.Read when no bytes are buffered and
	// the writer has not signalled EOF.
	ErrBIOEmpty = errors.New("handshake: bio empty")

	// ErrBIOClosed is returned by BIO.Write after WriteEOF.
	ErrBIOClosed = errors.New("handshake: write to bio after EOF")

	// ErrEncryptedClientKey rejects password-protected client keys.
	ErrEncryptedClientKey = errors.New("handshake: encrypted client keys are not supported")

	// ErrEmptyALPN rejects an empty ALPN protocol list.
	ErrEmptyALPN = errors.New("handshake: ALPN protocol list must not be empty")
)
