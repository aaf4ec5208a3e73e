package whatsapp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLoadOrInit_CreatesBundle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "94769872326")
	s := NewCredentialStore(zerolog.Nop())

	creds, err := s.LoadOrInit(context.Background(), dir)
	require.NoError(t, err)
	defer func() { require.NoError(t, creds.Close()) }()

	require.Equal(t, filepath.Join(dir, BundleFile), creds.PrimaryFile())
	info, err := os.Stat(creds.PrimaryFile())
	require.NoError(t, err)
	require.False(t, info.IsDir())

	bundle, ok := creds.(*Bundle)
	require.True(t, ok)
	require.Nil(t, bundle.device.ID, "fresh bundle is not registered")
}

func TestLoadOrInit_UnwritableParent(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(parent, []byte("x"), 0o600))

	_, err := NewCredentialStore(zerolog.Nop()).LoadOrInit(context.Background(), filepath.Join(parent, "session"))
	require.ErrorContains(t, err, "create session directory")
}
