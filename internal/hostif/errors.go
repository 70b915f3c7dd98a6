package hostif

import (
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// Sentinel errors
// -------------------------------------------------------------------------

var (
	// ErrUnknownKind indicates an add request named a vif kind this
	// registry does not recognize.
	ErrUnknownKind = errors.New("hostif: unknown vif kind")

	// ErrUnknownTransport indicates an agent add request named a
	// transport the packet-socket layer does not support.
	ErrUnknownTransport = errors.New("hostif: unknown agent transport")

	// ErrDBDFNotResolvable indicates a fabric add's PCI DBDF did not
	// match any entry in the NIC device table.
	ErrDBDFNotResolvable = errors.New("hostif: pci dbdf not resolvable")

	// ErrMonitoredVifMissing indicates a monitoring add named a vif
	// index that does not exist in the registry.
	ErrMonitoredVifMissing = errors.New("hostif: monitored vif does not exist")

	// ErrAlreadyBound indicates a re-add of a fabric port id or of the
	// process-wide agent vif.
	ErrAlreadyBound = errors.New("hostif: vif already bound")

	// ErrBusy indicates the registry's stop flag is set.
	ErrBusy = errors.New("hostif: registry is stopping")

	// ErrPoolExhausted indicates a packet-pool allocation failure, or
	// the fragmenter returning a negative fragment count.
	ErrPoolExhausted = errors.New("hostif: packet pool exhausted")

	// ErrDeviceStartFailed indicates the NIC PMD failed to start.
	ErrDeviceStartFailed = errors.New("hostif: device start failed")

	// ErrKNIInitFailed indicates KNI creation failed.
	ErrKNIInitFailed = errors.New("hostif: kni init failed")

	// ErrNotBound indicates a delete was issued against a vif whose
	// opaque binding slot is nil.
	ErrNotBound = errors.New("hostif: vif is not bound")

	// ErrMonitoringStale indicates a monitoring-stop raced a re-add of
	// the monitored vif: the mapping no longer points at the caller.
	ErrMonitoringStale = errors.New("hostif: monitoring mapping stale")

	// ErrQueueOpsMissing indicates the scheduled queue lacks the f_tx
	// (or f_tx_bulk, for multi-fragment sends) operation required by
	// the current send.
	ErrQueueOpsMissing = errors.New("hostif: queue ops missing f_tx/f_tx_bulk")

	// ErrNoTXQueue indicates the current core has no TX queue slot
	// scheduled for the vif.
	ErrNoTXQueue = errors.New("hostif: no tx queue for vif on this core")
)

// -------------------------------------------------------------------------
// ErrorKind — §7 Error Handling Design
// -------------------------------------------------------------------------

// ErrorKind classifies a hostif error for mapping onto an RPC status code
// in internal/server, independent of the specific sentinel involved.
type ErrorKind int

const (
	// ErrKindInvalidArgument: unknown vif kind, unknown transport.
	ErrKindInvalidArgument ErrorKind = iota
	// ErrKindNotFound: PCI DBDF not resolvable; monitored vif missing.
	ErrKindNotFound
	// ErrKindAlreadyExists: re-add of fabric/agent.
	ErrKindAlreadyExists
	// ErrKindBusy: stop flag set.
	ErrKindBusy
	// ErrKindResourceExhausted: pool allocation failure, fragmenter
	// returning negative.
	ErrKindResourceExhausted
	// ErrKindInternal: device start failed, KNI init failed.
	ErrKindInternal
	// ErrKindConflict: delete against an unbound vif, or a monitoring
	// mapping that no longer matches the caller.
	ErrKindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindInvalidArgument:
		return "invalid_argument"
	case ErrKindNotFound:
		return "not_found"
	case ErrKindAlreadyExists:
		return "already_exists"
	case ErrKindBusy:
		return "busy"
	case ErrKindResourceExhausted:
		return "resource_exhausted"
	case ErrKindInternal:
		return "internal"
	case ErrKindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error wraps a sentinel with its ErrorKind and vif context so that
// internal/server can map it to a transport status code without string
// matching.
type Error struct {
	Kind  ErrorKind
	VifID int32
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.VifID >= 0 {
		return fmt.Sprintf("hostif: %s vif=%d: %v", e.Op, e.VifID, e.Err)
	}
	return fmt.Sprintf("hostif: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// newErr builds an *Error for op on vif vifID (-1 when there is no vif
// context).
func newErr(kind ErrorKind, op string, vifID int32, err error) *Error {
	return &Error{Kind: kind, VifID: vifID, Op: op, Err: err}
}

// kindOf classifies a known sentinel into its ErrorKind. Unrecognized
// errors classify as Internal so that callers never silently treat an
// unexpected failure as a benign one.
func kindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrUnknownKind), errors.Is(err, ErrUnknownTransport):
		return ErrKindInvalidArgument
	case errors.Is(err, ErrDBDFNotResolvable), errors.Is(err, ErrMonitoredVifMissing):
		return ErrKindNotFound
	case errors.Is(err, ErrAlreadyBound):
		return ErrKindAlreadyExists
	case errors.Is(err, ErrBusy):
		return ErrKindBusy
	case errors.Is(err, ErrPoolExhausted):
		return ErrKindResourceExhausted
	case errors.Is(err, ErrDeviceStartFailed), errors.Is(err, ErrKNIInitFailed):
		return ErrKindInternal
	case errors.Is(err, ErrNotBound), errors.Is(err, ErrMonitoringStale):
		return ErrKindConflict
	default:
		return ErrKindInternal
	}
}
