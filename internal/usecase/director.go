package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pairbot/internal/domain"
	"pairbot/internal/metrics"
)

const (
	defaultMaxAttempts    = 5
	defaultReadyTimeout   = 15 * time.Second
	defaultSettleDelay    = 2 * time.Second
	defaultCleanupDelay   = time.Second
	defaultSessionTimeout = 5 * time.Minute
	defaultSessionDirName = "session"
)

// Payloads returned to the caller.
const (
	MsgInvalidNumber      = "Invalid phone number. Please enter your full international number (e.g., 15551234567 for US, 447911123456 for UK, 94769872326 for LK, etc.) without + or spaces."
	MsgPairingFailed      = "Failed to get pairing code. Please check your number and try again."
	MsgAuthFailed         = "Auth failed. Please try again."
	MsgServiceUnavailable = "Service Unavailable"
	MsgAlreadyLinked      = "Session already linked"
)

type PhoneValidator interface {
	Parse(raw string) (domain.Phone, bool)
}

// Credentials is the on-disk credential bundle opened for one attempt.
type Credentials interface {
	PrimaryFile() string
	Close() error
}

type CredentialStore interface {
	LoadOrInit(ctx context.Context, dir string) (Credentials, error)
}

// Connection is the protocol client handle for one attempt.
type Connection interface {
	Registered() bool
	Ready() <-chan struct{}
	Events() <-chan domain.ConnectionEvent
	Failures() <-chan error
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	SendText(ctx context.Context, address, text string) error
	Close() error
}

type ConnectionFactory interface {
	Open(ctx context.Context, creds Credentials) (Connection, error)
}

// Recorder persists lifecycle transitions. Errors are logged only.
type Recorder interface {
	RecordTransition(ctx context.Context, rec domain.SessionRecord) error
	RecordSummary(ctx context.Context, sum domain.SessionSummary) error
}

type Dependencies struct {
	Validator   PhoneValidator
	Credentials CredentialStore
	Connections ConnectionFactory
	Exporter    *Exporter
	Cleaner     *Cleaner
	Filter      *Filter
	Recorder    Recorder
}

type Options struct {
	SessionsDir    string
	MaxAttempts    int
	Backoff        Backoff
	ReadyTimeout   time.Duration
	SettleDelay    time.Duration
	CleanupDelay   time.Duration
	SessionTimeout time.Duration
}

// Request is one call for a session.
type Request struct {
	Number string
	Sink   ResponseSink
}

// Director sequences one session's lifecycle: connect, pair, export, clean up.
type Director struct {
	deps   Dependencies
	opts   Options
	logger zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	newID func() string

	mu        sync.Mutex
	activeDir string
}

func NewDirector(deps Dependencies, opts Options, logger zerolog.Logger) (*Director, error) {
	if deps.Validator == nil {
		return nil, errors.New("usecase: phone validator must not be nil")
	}
	if deps.Credentials == nil {
		return nil, errors.New("usecase: credential store must not be nil")
	}
	if deps.Connections == nil {
		return nil, errors.New("usecase: connection factory must not be nil")
	}
	if deps.Exporter == nil {
		return nil, errors.New("usecase: exporter must not be nil")
	}
	if deps.Filter == nil {
		return nil, errors.New("usecase: error filter must not be nil")
	}
	if deps.Cleaner == nil {
		deps.Cleaner = NewCleaner(logger)
	}
	if strings.TrimSpace(opts.SessionsDir) == "" {
		opts.SessionsDir = "."
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = defaultSettleDelay
	}
	if opts.CleanupDelay <= 0 {
		opts.CleanupDelay = defaultCleanupDelay
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = defaultSessionTimeout
	}
	return &Director{
		deps:   deps,
		opts:   opts,
		logger: logger,
		sleep:  sleepContext,
		newID:  uuid.NewString,
	}, nil
}

// SessionDir returns the directory holding the bundle for number's digits.
func SessionDir(base, digits string) string {
	if digits == "" {
		digits = defaultSessionDirName
	}
	return filepath.Join(base, digits)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type session struct {
	id      string
	phone   domain.Phone
	dir     string
	sink    ResponseSink
	attempt int
	logger  zerolog.Logger
}

// Run drives one session to a terminal state. It never exits the process;
// the caller maps the Termination to an exit code.
func (d *Director) Run(ctx context.Context, req Request) domain.Termination {
	digits := digitsOnly(req.Number)
	phone, ok := d.deps.Validator.Parse("+" + digits)
	if !ok {
		req.Sink.Deliver(Response{Status: http.StatusBadRequest, Code: MsgInvalidNumber})
		metrics.SessionsTotal.WithLabelValues(string(domain.OutcomeRejected)).Inc()
		return domain.Termination{
			Outcome: domain.OutcomeRejected,
			Reason:  newError(ErrorInvalidInput, "invalid_phone_number", nil),
		}
	}

	s := &session{
		id:    d.newID(),
		phone: phone,
		dir:   SessionDir(d.opts.SessionsDir, digits),
		sink:  req.Sink,
	}
	s.logger = d.logger.With().Str("session_id", s.id).Str("phone", string(phone)).Logger()

	ctx, cancel := context.WithTimeout(ctx, d.opts.SessionTimeout)
	defer cancel()

	d.setActive(s.dir)
	defer d.setActive("")

	d.deps.Cleaner.Cleanup(s.dir)
	term := d.lifecycle(ctx, s)
	d.finish(ctx, s, term)
	return term
}

func (d *Director) setActive(dir string) {
	d.mu.Lock()
	d.activeDir = dir
	d.mu.Unlock()
}

// CleanupActive removes the local state of the running session, if any. It
// is meant for a process that exits without letting Run finish.
func (d *Director) CleanupActive() bool {
	d.mu.Lock()
	dir := d.activeDir
	d.mu.Unlock()
	if dir == "" {
		return false
	}
	return d.deps.Cleaner.Cleanup(dir)
}

func (d *Director) lifecycle(ctx context.Context, s *session) domain.Termination {
	for attempt := 1; ; attempt++ {
		s.attempt = attempt
		if attempt > d.opts.MaxAttempts {
			return d.fail(s, http.StatusServiceUnavailable, MsgServiceUnavailable,
				newError(ErrorUnavailable, "retries_exhausted", fmt.Errorf("%d attempts", d.opts.MaxAttempts)))
		}
		if attempt > 1 {
			d.transition(ctx, s, domain.StateRestarting, "")
			metrics.SessionRestarts.Inc()
			if err := d.sleep(ctx, d.opts.Backoff.Delay(attempt-1)); err != nil {
				return d.fail(s, http.StatusServiceUnavailable, MsgServiceUnavailable,
					newError(ErrorUnavailable, "session_deadline", err))
			}
		}

		term, restart := d.attempt(ctx, s)
		if !restart {
			return term
		}
	}
}

// attempt runs one connection from construction to a terminal event. The
// boolean result asks the caller for a restart.
func (d *Director) attempt(ctx context.Context, s *session) (domain.Termination, bool) {
	d.transition(ctx, s, domain.StateInitializing, "")

	creds, err := d.deps.Credentials.LoadOrInit(ctx, s.dir)
	if err != nil {
		return d.fail(s, http.StatusServiceUnavailable, MsgServiceUnavailable,
			newError(ErrorUnavailable, "credentials_load_error", err)), false
	}
	conn, err := d.deps.Connections.Open(ctx, creds)
	if err != nil {
		d.closeCredentials(s, creds)
		return d.fail(s, http.StatusServiceUnavailable, MsgServiceUnavailable,
			newError(ErrorUnavailable, "client_init_error", err)), false
	}
	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	release := func() {
		cancelAttempt()
		if err := conn.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close connection")
		}
		d.closeCredentials(s, creds)
	}

	var pairing <-chan pairResult
	if conn.Registered() {
		d.transition(ctx, s, domain.StatePairedAwaitingOpen, "")
	} else {
		d.transition(ctx, s, domain.StateAwaitingPairRequest, "")
		pairing = d.requestPairing(attemptCtx, s, conn)
	}

	events := conn.Events()
	failures := conn.Failures()
	for {
		select {
		case <-ctx.Done():
			release()
			return d.fail(s, http.StatusServiceUnavailable, MsgServiceUnavailable,
				newError(ErrorUnavailable, "session_deadline", ctx.Err())), false

		case res := <-pairing:
			pairing = nil
			if res.err != nil {
				release()
				return d.fail(s, http.StatusServiceUnavailable, MsgPairingFailed,
					newError(ErrorPairing, "pairing_request_error", res.err)), false
			}
			s.logger.Info().Str("code", res.code).Msg("pairing code issued")
			d.respond(s, http.StatusOK, res.code)
			d.transition(ctx, s, domain.StatePairedAwaitingOpen, "")

		case err, ok := <-failures:
			if !ok {
				failures = nil
				continue
			}
			if d.deps.Filter.Suppressed(err) {
				continue
			}
			release()
			return d.fail(s, http.StatusServiceUnavailable, MsgServiceUnavailable,
				newError(ErrorInternal, "unclassified_async_error", err)), false

		case ev, ok := <-events:
			if !ok {
				events = nil
				ev = domain.CloseEvent(domain.DisconnectUnknown, "event stream ended")
			}
			switch ev.Kind {
			case domain.EventOpen:
				return d.export(ctx, s, conn, creds.PrimaryFile(), release), false
			case domain.EventClose:
				if s.sink.Delivered() {
					s.logger.Info().Stringer("event", ev).Msg("connection closed after pairing code sent, ignoring")
					continue
				}
				if ev.Code.Fatal() {
					s.logger.Error().Stringer("event", ev).Msg("auth error, not reconnecting")
					release()
					return d.fail(s, http.StatusServiceUnavailable, MsgAuthFailed,
						newError(ErrorAuth, "auth_rejected", errors.New(ev.String()))), false
				}
				s.logger.Warn().Stringer("event", ev).Msg("connection closed, restarting")
				release()
				return domain.Termination{}, true
			}
		}
	}
}

type pairResult struct {
	code string
	err  error
}

// requestPairing waits for transport readiness plus the settle delay, then
// asks for a pairing code. The result arrives on the returned channel so
// connection events stay observable meanwhile.
func (d *Director) requestPairing(ctx context.Context, s *session, conn Connection) <-chan pairResult {
	out := make(chan pairResult, 1)
	go func() {
		if !AwaitOpen(ctx, conn, d.opts.ReadyTimeout) && ctx.Err() == nil {
			s.logger.Warn().Dur("timeout", d.opts.ReadyTimeout).Msg("transport not ready, requesting pairing code anyway")
		}
		if err := d.sleep(ctx, d.opts.SettleDelay); err != nil {
			out <- pairResult{err: err}
			return
		}
		code, err := RequestCode(ctx, conn, s.phone)
		out <- pairResult{code: code, err: err}
	}()
	return out
}

func (d *Director) export(ctx context.Context, s *session, conn Connection, bundle string, release func()) domain.Termination {
	s.logger.Info().Msg("connected, exporting session")
	d.transition(ctx, s, domain.StateExporting, "")
	d.respond(s, http.StatusOK, MsgAlreadyLinked)

	ref, err := d.deps.Exporter.Export(ctx, conn, bundle, s.phone)
	release()

	d.transition(ctx, s, domain.StateCleaningUp, "")
	if err := d.sleep(ctx, d.opts.CleanupDelay); err != nil {
		// Cleanup runs regardless; the delay only lets pending writes drain.
		s.logger.Debug().Err(err).Msg("cleanup delay cut short")
	}
	d.deps.Cleaner.Cleanup(s.dir)

	if err != nil {
		s.logger.Error().Err(err).Msg("export failed")
		return domain.Termination{Outcome: domain.OutcomeFatal, Reason: newError(ErrorExport, "export_error", err)}
	}
	s.logger.Info().Str("reference", string(ref)).Msg("session exported and cleaned up")
	return domain.Termination{Outcome: domain.OutcomeSuccess, Reference: ref}
}

// fail responds with status if nothing was delivered yet, removes local
// state, and returns a fatal termination.
func (d *Director) fail(s *session, status int, msg string, reason error) domain.Termination {
	s.logger.Error().Err(reason).Int("attempt", s.attempt).Msg("session failed")
	d.respond(s, status, msg)
	d.deps.Cleaner.Cleanup(s.dir)
	return domain.Termination{Outcome: domain.OutcomeFatal, Reason: reason}
}

func (d *Director) respond(s *session, status int, code string) {
	if s.sink.Delivered() || !s.sink.Deliver(Response{Status: status, Code: code}) {
		s.logger.Debug().Int("status", status).Msg("response already delivered, dropping")
	}
}

func (d *Director) closeCredentials(s *session, creds Credentials) {
	if err := creds.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("close credential store")
	}
}

func (d *Director) transition(ctx context.Context, s *session, state domain.State, detail string) {
	s.logger.Debug().Str("state", string(state)).Int("attempt", s.attempt).Msg("session transition")
	if d.deps.Recorder == nil {
		return
	}
	err := d.deps.Recorder.RecordTransition(context.WithoutCancel(ctx), domain.SessionRecord{
		SessionID: s.id,
		Phone:     string(s.phone),
		Attempt:   s.attempt,
		State:     state,
		Detail:    detail,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("state", string(state)).Msg("record transition")
	}
}

func (d *Director) finish(ctx context.Context, s *session, term domain.Termination) {
	metrics.SessionsTotal.WithLabelValues(string(term.Outcome)).Inc()
	detail := ""
	if term.Reason != nil {
		detail = term.Reason.Error()
	}
	d.transition(ctx, s, domain.StateTerminated, detail)
	if d.deps.Recorder == nil {
		return
	}
	err := d.deps.Recorder.RecordSummary(context.WithoutCancel(ctx), domain.SessionSummary{
		SessionID: s.id,
		Phone:     string(s.phone),
		Outcome:   term.Outcome,
		Reference: string(term.Reference),
		Attempts:  s.attempt,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("record session summary")
	}
}
