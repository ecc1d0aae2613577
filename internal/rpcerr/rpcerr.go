// Package rpcerr classifies failures from the two external RPC surfaces
// this module depends on (the RIB's next-hop interest protocol and its
// transactional FTI/route-add protocol) into a fatal/transient split, so
// callers can decide between giving up and retrying without inspecting
// transport-specific error values.
package rpcerr

// Kind enumerates the XRL-era error classes from rib_client.cc's
// SyncFtiCommand, widened to also cover the next-hop RPC surface.
type Kind int

const (
	// NoFinder means the destination process could not be located.
	NoFinder Kind = iota
	// SendFailed means the request could not be dispatched at all.
	SendFailed
	// NoSuchMethod means the remote endpoint rejected the call shape.
	NoSuchMethod
	// ResolveFailed means the call reached the endpoint but it could not
	// resolve the request (e.g. the next-hop has no matching route).
	ResolveFailed
	// CommandFailed means the remote endpoint executed the call and
	// reported a failure outcome.
	CommandFailed
)

func (k Kind) String() string {
	switch k {
	case NoFinder:
		return "no_finder"
	case SendFailed:
		return "send_failed"
	case NoSuchMethod:
		return "no_such_method"
	case ResolveFailed:
		return "resolve_failed"
	case CommandFailed:
		return "command_failed"
	default:
		return "unknown"
	}
}

// TransportError wraps a Kind with the target that failed and, where
// available, the underlying transport error.
type TransportError struct {
	Kind   Kind
	Target string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return e.Target + ": " + e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Target + ": " + e.Kind.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Fatal reports whether this error class should stop further enqueues to
// the target, matching SyncFtiCommand's unconditional classification in
// command_complete/commit_complete: NoFinder, NoSuchMethod and
// ResolveFailed are fatal; SendFailed and CommandFailed are worth a
// one-second retry. Callers on a first-contact path (the initial
// start/register RPC to a target) should use FatalOnFirstContact instead,
// since a ResolveFailed there is only fatal once that target has answered
// at least once before.
func (e *TransportError) Fatal() bool {
	switch e.Kind {
	case NoFinder, NoSuchMethod, ResolveFailed:
		return true
	default:
		return false
	}
}

// FatalOnFirstContact is Fatal, except a ResolveFailed is treated as
// transient — worth a one-second retry — until seenSuccess is true.
// rib_client.cc's start_complete carries a per-task _previously_successful
// bool for exactly this: RESOLVE_FAILED while first establishing contact
// with a target gives it a chance to come up, but once contact has ever
// succeeded a later RESOLVE_FAILED is fatal like every other transport
// error. seenSuccess should be true once the caller has ever completed a
// successful exchange with the target; CommandFailed/SendFailed are
// unaffected by seenSuccess and classify the same as Fatal.
func (e *TransportError) FatalOnFirstContact(seenSuccess bool) bool {
	if e.Kind == ResolveFailed && !seenSuccess {
		return false
	}
	return e.Fatal()
}

// New constructs a TransportError.
func New(kind Kind, target string, err error) *TransportError {
	return &TransportError{Kind: kind, Target: target, Err: err}
}
