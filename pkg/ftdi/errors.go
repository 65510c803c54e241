package ftdi

import (
	"errors"
	"fmt"
)

// Error categories. Concrete failures wrap one of these so callers can
// classify with errors.Is while the message carries the failing signal,
// command or acknowledgement detail.
var (
	// ErrConfiguration covers missing device identifiers, references to
	// undefined signals and aliases of non-existent signals.
	ErrConfiguration = errors.New("configuration error")

	// ErrCapability means a signal cannot produce the requested level
	// with the masks it was given.
	ErrCapability = errors.New("capability error")

	// ErrProtocol is the category for SWD acknowledgement and parity
	// faults. Match concrete faults with AckError / ParityError.
	ErrProtocol = errors.New("protocol fault")

	// ErrResource covers device-open failures and transfer errors.
	ErrResource = errors.New("resource error")
)

// InvariantError reports a caller bug that may have desynchronized the
// tracked TAP state from the physical scan chain: an unstable end state or
// an illegal state-path step. It is not recoverable. The session records
// the first such error and refuses all further work until reopened; the
// application decides whether to terminate or start over.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "ftdi: invariant violation: " + e.Reason
}

func invariantf(format string, args ...any) *InvariantError {
	return &InvariantError{Reason: fmt.Sprintf(format, args...)}
}

// IsInvariant reports whether err is (or wraps) an InvariantError.
func IsInvariant(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

// AckError is a non-OK SWD acknowledgement on a checked transaction.
type AckError struct {
	Cmd byte
	Ack uint8
}

func (e *AckError) Error() string {
	return fmt.Sprintf("ftdi: SWD %s on %s %s reg %X",
		ackName(e.Ack), swdCmdPortName(e.Cmd), swdCmdDirName(e.Cmd), swdCmdReg(e.Cmd))
}

func (e *AckError) Is(target error) bool {
	return target == ErrProtocol
}

// Wait reports whether the fault was a WAIT response, which callers may
// retry after the access port catches up.
func (e *AckError) Wait() bool {
	return e.Ack == swdAckWait
}

// ParityError is a corrupted SWD read: the data parity bit did not match
// the received 32-bit value.
type ParityError struct {
	Cmd   byte
	Value uint32
}

func (e *ParityError) Error() string {
	return fmt.Sprintf("ftdi: SWD read data parity mismatch on %s reg %X (value %08x)",
		swdCmdPortName(e.Cmd), swdCmdReg(e.Cmd), e.Value)
}

func (e *ParityError) Is(target error) bool {
	return target == ErrProtocol
}
