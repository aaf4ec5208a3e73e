package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"pairbot/internal/domain"
)

var referencePattern = regexp.MustCompile(`/file/([^#]+#[^/]+)`)

// BlobStore uploads a local file and returns its public URL.
type BlobStore interface {
	Upload(ctx context.Context, localPath, remoteName string) (string, error)
}

// MessageSender delivers a plain text message to an account address.
type MessageSender interface {
	SendText(ctx context.Context, address, text string) error
}

// Exporter externalizes a credential bundle and notifies its owner.
type Exporter struct {
	blobs  BlobStore
	logger zerolog.Logger
	now    func() time.Time
}

func NewExporter(blobs BlobStore, logger zerolog.Logger) (*Exporter, error) {
	if blobs == nil {
		return nil, errors.New("usecase: blob store must not be nil")
	}
	return &Exporter{blobs: blobs, logger: logger, now: time.Now}, nil
}

// Export uploads the bundle file, derives its reference and sends the
// reference to owner over sender.
func (e *Exporter) Export(ctx context.Context, sender MessageSender, bundlePath string, owner domain.Phone) (domain.Reference, error) {
	info, err := os.Stat(bundlePath)
	if err != nil {
		return "", &ExportError{Stage: StageRead, Err: err}
	}
	if info.IsDir() || info.Size() == 0 {
		return "", &ExportError{Stage: StageRead, Err: fmt.Errorf("bundle %s is empty", bundlePath)}
	}

	name := RemoteName(owner, filepath.Ext(bundlePath), e.now())
	url, err := e.blobs.Upload(ctx, bundlePath, name)
	if err != nil {
		return "", &ExportError{Stage: StageUpload, Err: err}
	}

	ref, ok := ExtractReference(url)
	if !ok {
		return "", &ExportError{Stage: StageReference, Err: fmt.Errorf("no reference in url %q", url)}
	}
	e.logger.Info().Str("reference", string(ref)).Str("remote_name", name).Msg("session uploaded")

	if err := sender.SendText(ctx, owner.Address(), string(ref)); err != nil {
		return "", &ExportError{Stage: StageNotify, Err: err}
	}
	e.logger.Info().Str("phone", string(owner)).Msg("reference sent to owner")
	return ref, nil
}

// RemoteName builds a storage name unique per owner and time.
func RemoteName(owner domain.Phone, ext string, at time.Time) string {
	if ext == "" {
		ext = ".json"
	}
	return fmt.Sprintf("%s%s_%d%s", domain.BundlePrefix, owner, at.UnixMilli(), ext)
}

// ExtractReference returns the "<id>#<key>" part following /file/ in url.
func ExtractReference(url string) (domain.Reference, bool) {
	m := referencePattern.FindStringSubmatch(url)
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	return domain.Reference(m[1]), true
}
