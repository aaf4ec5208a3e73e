package whatsapp

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"pairbot/internal/domain"
	"pairbot/internal/usecase"
)

const eventBuffer = 32

// Connection adapts a whatsmeow client to usecase.Connection.
type Connection struct {
	client    *whatsmeow.Client
	handlerID uint32
	logger    zerolog.Logger
	recoverer Recoverer

	ready     chan struct{}
	readyOnce sync.Once
	events    chan domain.ConnectionEvent
	failures  chan error
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(client *whatsmeow.Client, logger zerolog.Logger, recoverer Recoverer) *Connection {
	return &Connection{
		client:    client,
		logger:    logger,
		recoverer: recoverer,
		ready:     make(chan struct{}),
		events:    make(chan domain.ConnectionEvent, eventBuffer),
		failures:  make(chan error, eventBuffer),
		done:      make(chan struct{}),
	}
}

func (c *Connection) Ready() <-chan struct{}                { return c.ready }
func (c *Connection) Events() <-chan domain.ConnectionEvent { return c.events }
func (c *Connection) Failures() <-chan error                { return c.failures }

// signal is what one library event means for the session.
type signal struct {
	ready   bool
	event   *domain.ConnectionEvent
	failure error
}

// translate maps a library event to a session signal.
func translate(evt any) signal {
	switch e := evt.(type) {
	case *events.QR:
		return signal{ready: true}
	case *events.Connected:
		open := domain.OpenEvent()
		return signal{ready: true, event: &open}
	case *events.LoggedOut:
		return closeSignal(domain.DisconnectLoggedOut, fmt.Sprintf("logged out (%d)", int(e.Reason)))
	case *events.StreamReplaced:
		return closeSignal(domain.DisconnectConnectionReplaced, "stream replaced")
	case *events.ConnectFailure:
		return closeSignal(domain.DisconnectCode(e.Reason), e.Message)
	case *events.TemporaryBan:
		return closeSignal(domain.DisconnectForbidden, fmt.Sprintf("temporary ban (%d)", int(e.Code)))
	case *events.ClientOutdated:
		return closeSignal(domain.DisconnectClientOutdated, "client outdated")
	case *events.Disconnected:
		return closeSignal(domain.DisconnectConnectionClosed, "disconnected")
	case *events.StreamError:
		return signal{failure: usecase.Classified(usecase.ClassStreamErrored, fmt.Errorf("stream error %s", e.Code))}
	case *events.KeepAliveTimeout:
		return signal{failure: usecase.Classified(usecase.ClassTimedOut, fmt.Errorf("keepalive timeout (%d)", e.ErrorCount))}
	case *events.PairError:
		return signal{failure: fmt.Errorf("pairing failed: %w", e.Error)}
	default:
		return signal{}
	}
}

func closeSignal(code domain.DisconnectCode, reason string) signal {
	ev := domain.CloseEvent(code, reason)
	return signal{event: &ev}
}

func (c *Connection) handle(evt any) {
	defer c.recoverer.Recover()

	switch e := evt.(type) {
	case *events.PairSuccess:
		c.logger.Info().Str("jid", e.ID.String()).Msg("new login via pair code")
	case *events.Connected:
		c.logger.Info().Msg("client is online")
	}

	sig := translate(evt)
	if sig.ready {
		c.readyOnce.Do(func() { close(c.ready) })
	}
	if sig.event != nil {
		select {
		case c.events <- *sig.event:
		case <-c.done:
		}
	}
	if sig.failure != nil {
		select {
		case c.failures <- sig.failure:
		case <-c.done:
		}
	}
}
