package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"pairbot/internal/usecase"
)

const (
	clientOS          = "Windows"
	clientDisplayName = "Chrome (Windows)"
)

// Recoverer is deferred at the top of event callbacks.
type Recoverer interface {
	Recover()
}

// Factory opens protocol client connections on a credential bundle.
type Factory struct {
	logger       zerolog.Logger
	recoverer    Recoverer
	httpClient   *http.Client
	fetchVersion bool
}

type Option func(*Factory)

// WithoutVersionFetch keeps the library's built-in web client version.
func WithoutVersionFetch() Option {
	return func(f *Factory) { f.fetchVersion = false }
}

func NewFactory(logger zerolog.Logger, recoverer Recoverer, opts ...Option) (*Factory, error) {
	if recoverer == nil {
		return nil, errors.New("whatsapp: recoverer must not be nil")
	}
	f := &Factory{
		logger:       logger,
		recoverer:    recoverer,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		fetchVersion: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	store.SetOSInfo(clientOS, [3]uint32{10, 0, 0})
	return f, nil
}

func (f *Factory) Open(ctx context.Context, creds usecase.Credentials) (usecase.Connection, error) {
	bundle, ok := creds.(*Bundle)
	if !ok || bundle.device == nil {
		return nil, fmt.Errorf("whatsapp: unsupported credentials %T", creds)
	}
	if f.fetchVersion {
		ver, err := whatsmeow.GetLatestVersion(ctx, f.httpClient)
		if err != nil {
			f.logger.Warn().Err(err).Msg("fetch latest web version, keeping built-in")
		} else {
			store.SetWAVersion(*ver)
		}
	}

	client := whatsmeow.NewClient(bundle.device, waLog.Zerolog(f.logger.With().Str("component", "client").Logger()))
	conn := newConnection(client, f.logger, f.recoverer)
	conn.handlerID = client.AddEventHandler(conn.handle)
	if err := client.Connect(); err != nil {
		client.RemoveEventHandler(conn.handlerID)
		return nil, fmt.Errorf("whatsapp: connect: %w", err)
	}
	return conn, nil
}

func (c *Connection) Registered() bool {
	return c.client.Store.ID != nil
}

func (c *Connection) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	return c.client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, clientDisplayName)
}

func (c *Connection) SendText(ctx context.Context, address, text string) error {
	jid, err := types.ParseJID(address)
	if err != nil {
		return fmt.Errorf("whatsapp: parse address %q: %w", address, err)
	}
	if _, err := c.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)}); err != nil {
		return fmt.Errorf("whatsapp: send message: %w", err)
	}
	return nil
}

// Close detaches the event handler and disconnects. Safe to call twice.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.client != nil {
			c.client.RemoveEventHandler(c.handlerID)
			c.client.Disconnect()
		}
	})
	return nil
}
