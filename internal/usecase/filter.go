package usecase

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"pairbot/internal/metrics"
)

// Class tags an asynchronous failure with its known origin.
type Class string

const (
	ClassUnknown            Class = ""
	ClassConflict           Class = "conflict"
	ClassNotAuthorized      Class = "not-authorized"
	ClassSocketTimeout      Class = "socket-timeout"
	ClassRateLimited        Class = "rate-overlimit"
	ClassConnectionClosed   Class = "connection-closed"
	ClassTimedOut           Class = "timed-out"
	ClassValueNotFound      Class = "value-not-found"
	ClassStreamErrored      Class = "stream-errored"
	ClassRestartRequired    Class = "status-515"
	ClassServiceUnavailable Class = "status-503"
)

// Benign reports whether failures of this class are expected transport noise.
func (c Class) Benign() bool {
	switch c {
	case ClassConflict, ClassNotAuthorized, ClassSocketTimeout, ClassRateLimited,
		ClassConnectionClosed, ClassTimedOut, ClassValueNotFound, ClassStreamErrored,
		ClassRestartRequired, ClassServiceUnavailable:
		return true
	default:
		return false
	}
}

// ClassifiedError carries a Class set by the component that observed the failure.
type ClassifiedError struct {
	Class Class
	Err   error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport failure (%s)", e.Class)
	}
	return fmt.Sprintf("transport failure (%s): %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classified tags err with class.
func Classified(class Class, err error) error {
	return &ClassifiedError{Class: class, Err: err}
}

// Messages from collaborators that do not tag their errors.
var untaggedPatterns = []struct {
	substr string
	class  Class
}{
	{"conflict", ClassConflict},
	{"not-authorized", ClassNotAuthorized},
	{"Socket connection timeout", ClassSocketTimeout},
	{"rate-overlimit", ClassRateLimited},
	{"Connection Closed", ClassConnectionClosed},
	{"Timed Out", ClassTimedOut},
	{"Value not found", ClassValueNotFound},
	{"Stream Errored", ClassStreamErrored},
	{"statusCode: 515", ClassRestartRequired},
	{"statusCode: 503", ClassServiceUnavailable},
}

// Classify returns the tag of err, falling back to the known message table
// for errors that carry none.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	var tagged *ClassifiedError
	if errors.As(err, &tagged) && tagged.Class != ClassUnknown {
		return tagged.Class
	}
	msg := err.Error()
	for _, p := range untaggedPatterns {
		if strings.Contains(msg, p.substr) {
			return p.class
		}
	}
	return ClassUnknown
}

// Filter is the last-resort handler for failures that escape local handling.
type Filter struct {
	logger zerolog.Logger
	fatal  func(error)
}

// NewFilter returns a Filter that calls fatal for unclassified failures.
func NewFilter(logger zerolog.Logger, fatal func(error)) (*Filter, error) {
	if fatal == nil {
		return nil, errors.New("usecase: fatal hook must not be nil")
	}
	return &Filter{logger: logger, fatal: fatal}, nil
}

// Suppressed reports whether err is benign noise. It has no side effect
// beyond logging, so callers decide how to terminate.
func (f *Filter) Suppressed(err error) bool {
	class := Classify(err)
	benign := class.Benign()
	metrics.TransientErrors.WithLabelValues(string(class), strconv.FormatBool(benign)).Inc()
	if benign {
		f.logger.Debug().Err(err).Str("class", string(class)).Msg("suppressed transient error")
		return true
	}
	f.logger.Error().Err(err).Msg("unclassified asynchronous error")
	return false
}

// Handle swallows benign failures and invokes the fatal hook for the rest.
func (f *Filter) Handle(err error) bool {
	if f.Suppressed(err) {
		return true
	}
	f.fatal(err)
	return false
}

// Recover is deferred at the top of goroutines owned by collaborators; a
// recovered panic goes through Handle.
func (f *Filter) Recover() {
	r := recover()
	if r == nil {
		return
	}
	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", r)
	}
	f.Handle(err)
}
