package domain

import (
	"fmt"
	"strings"
)

// UserServer is the address suffix for personal accounts on the messaging network.
const UserServer = "s.whatsapp.net"

// State is a step of the session lifecycle.
type State string

const (
	StateInitializing        State = "INITIALIZING"
	StateAwaitingPairRequest State = "AWAITING_PAIR_REQUEST"
	StatePairedAwaitingOpen  State = "PAIRED_AWAITING_OPEN"
	StateExporting           State = "EXPORTING"
	StateCleaningUp          State = "CLEANING_UP"
	StateRestarting          State = "RESTARTING"
	StateTerminated          State = "TERMINATED"
)

// Outcome is the terminal result of a Director run.
type Outcome string

const (
	// OutcomeRejected means validation failed and no session was attempted.
	OutcomeRejected Outcome = "rejected"
	OutcomeSuccess  Outcome = "success"
	OutcomeFatal    Outcome = "fatal"
)

// Termination is returned to the process entry point, which performs the exit.
type Termination struct {
	Outcome   Outcome
	Reason    error
	Reference Reference
}

// ExitCode maps the termination to a process exit code.
func (t Termination) ExitCode() int {
	if t.Outcome == OutcomeFatal {
		return 1
	}
	return 0
}

// Ends reports whether the process should stop after this termination.
func (t Termination) Ends() bool {
	return t.Outcome != OutcomeRejected
}

// Phone is a validated number in E.164 form without the leading plus.
type Phone string

// Address returns the messaging address of the account that owns the number.
func (p Phone) Address() string {
	return string(p) + "@" + UserServer
}

// Reference is the opaque identifier from which an exported bundle can be fetched.
type Reference string

// BundlePrefix starts the remote name of every exported bundle.
const BundlePrefix = "creds_"

// EventKind distinguishes connection lifecycle events.
type EventKind int

const (
	EventOpen EventKind = iota + 1
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// DisconnectCode classifies why a connection closed. Values follow the
// status codes the messaging network reports.
type DisconnectCode int

const (
	DisconnectUnknown            DisconnectCode = 0
	DisconnectLoggedOut          DisconnectCode = 401
	DisconnectForbidden          DisconnectCode = 403
	DisconnectClientOutdated     DisconnectCode = 405
	DisconnectTimedOut           DisconnectCode = 408
	DisconnectConnectionClosed   DisconnectCode = 428
	DisconnectConnectionReplaced DisconnectCode = 440
	DisconnectBadSession         DisconnectCode = 500
	DisconnectUnavailable        DisconnectCode = 503
	DisconnectRestartRequired    DisconnectCode = 515
)

// Fatal reports whether a close with this code makes retrying pointless.
func (c DisconnectCode) Fatal() bool {
	return c == DisconnectLoggedOut || c == DisconnectConnectionClosed
}

// ConnectionEvent is one lifecycle emission of a connection handle.
type ConnectionEvent struct {
	Kind   EventKind
	Code   DisconnectCode
	Reason string
}

func (e ConnectionEvent) String() string {
	if e.Kind != EventClose {
		return e.Kind.String()
	}
	if strings.TrimSpace(e.Reason) == "" {
		return fmt.Sprintf("close(%d)", int(e.Code))
	}
	return fmt.Sprintf("close(%d: %s)", int(e.Code), e.Reason)
}

// OpenEvent returns a connection-open event.
func OpenEvent() ConnectionEvent {
	return ConnectionEvent{Kind: EventOpen}
}

// CloseEvent returns a connection-close event with the given classifier.
func CloseEvent(code DisconnectCode, reason string) ConnectionEvent {
	return ConnectionEvent{Kind: EventClose, Code: code, Reason: reason}
}
