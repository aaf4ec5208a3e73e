package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	"pairbot/internal/usecase"
)

// BundleFile is the credential bundle's primary file inside a session directory.
const BundleFile = "store.db"

// Bundle is the sqlite-backed credential bundle of one session directory.
type Bundle struct {
	container *sqlstore.Container
	device    *store.Device
	path      string
}

func (b *Bundle) PrimaryFile() string { return b.path }

func (b *Bundle) Close() error {
	if b.container == nil {
		return nil
	}
	return b.container.Close()
}

// CredentialStore opens or creates the credential bundle in a session directory.
type CredentialStore struct {
	logger zerolog.Logger
}

func NewCredentialStore(logger zerolog.Logger) *CredentialStore {
	return &CredentialStore{logger: logger}
}

func (s *CredentialStore) LoadOrInit(ctx context.Context, dir string) (usecase.Credentials, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("whatsapp: create session directory: %w", err)
	}
	path := filepath.Join(dir, BundleFile)
	dbLog := waLog.Zerolog(s.logger.With().Str("component", "store").Logger())
	container, err := sqlstore.New(ctx, "sqlite3", "file:"+path+"?_foreign_keys=on", dbLog)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: open credential store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("whatsapp: load device: %w", err)
	}
	if device == nil {
		_ = container.Close()
		return nil, errors.New("whatsapp: credential store returned no device")
	}
	return &Bundle{container: container, device: device, path: path}, nil
}
