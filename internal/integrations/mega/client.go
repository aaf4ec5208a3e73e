package mega

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"pairbot/internal/domain"
	"pairbot/internal/integrations/paramstore"
)

const (
	defaultBaseURL = "https://mega.nz"
	maxDownload    = 10 << 20
)

var (
	fileLinkPattern   = regexp.MustCompile(`/file/([^#/]+)#([^/]+)`)
	legacyLinkPattern = regexp.MustCompile(`#!([^!]+)!([^/]+)`)
)

// Getter reads the account secret.
type Getter = paramstore.Getter

// ErrNotFound is returned when no bundle in the account matches a reference.
var ErrNotFound = errors.New("mega: no file matches reference")

// remoteFile is a file node as listed by the account. Hash is the node
// handle, not the public export id found in links.
type remoteFile struct {
	Hash     string
	Name     string
	Size     int64
	Modified time.Time
}

// session is one logged-in account connection.
type session interface {
	UploadFile(localPath, name string) (link string, err error)
	RootFiles() ([]remoteFile, error)
	ExportLink(hash string) (string, error)
	DownloadFile(hash, dstPath string) error
	Close()
}

type dialer func(email, password string) (session, error)

// accountPayload is the expected JSON shape stored in SSM for the account.
type accountPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Client uploads credential bundles to a MEGA account and downloads them back.
type Client struct {
	getter    Getter
	paramName string
	baseURL   string
	dial      dialer

	accountOnce sync.Once
	account     accountPayload
	accountErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

// NewClient creates a Client that reads the account from "<paramPrefix>/mega"
// on first use.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("mega: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("mega: parameter prefix must not be empty")
	}
	c := &Client{
		getter:    ps,
		paramName: paramPrefix + "/mega",
		baseURL:   defaultBaseURL,
		dial:      dialSDK,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveAccount(ctx context.Context) (accountPayload, error) {
	c.accountOnce.Do(func() {
		c.account, c.accountErr = fetchAccount(ctx, c.getter, c.paramName)
	})
	return c.account, c.accountErr
}

func fetchAccount(ctx context.Context, getter Getter, name string) (accountPayload, error) {
	var acct accountPayload
	if err := paramstore.GetJSON(ctx, getter, name, &acct); err != nil {
		return accountPayload{}, fmt.Errorf("mega: fetch account: %w", err)
	}
	if acct.Email == "" || acct.Password == "" {
		return accountPayload{}, errors.New("mega: account email or password is empty")
	}
	return acct, nil
}

func (c *Client) login(ctx context.Context) (session, error) {
	acct, err := c.resolveAccount(ctx)
	if err != nil {
		return nil, err
	}
	s, err := c.dial(acct.Email, acct.Password)
	if err != nil {
		return nil, fmt.Errorf("mega: login: %w", err)
	}
	return s, nil
}

// Upload stores localPath under remoteName and returns the public link in
// "<base>/file/<handle>#<key>" form.
func (c *Client) Upload(ctx context.Context, localPath, remoteName string) (string, error) {
	if strings.TrimSpace(remoteName) == "" {
		return "", errors.New("mega: remote name is required")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("mega: stat upload source: %w", err)
	}
	s, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	defer s.Close()

	link, err := withContext(ctx, func() (string, error) {
		return s.UploadFile(localPath, remoteName)
	})
	if err != nil {
		return "", fmt.Errorf("mega: upload %q: %w", remoteName, err)
	}
	return CanonicalLink(c.baseURL, link), nil
}

// Download fetches the file behind url, which may be a full link or a bare
// "<handle>#<key>" reference.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	handle, key, ok := ParseLink(CanonicalLink(c.baseURL, url))
	if !ok {
		return nil, fmt.Errorf("mega: unrecognized link %q", url)
	}
	s, err := c.login(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	file, err := withContext(ctx, func() (remoteFile, error) {
		return c.resolve(s, handle, key)
	})
	if err != nil {
		return nil, err
	}
	if file.Size > maxDownload {
		return nil, fmt.Errorf("mega: download too large (%d bytes)", file.Size)
	}

	tmp, err := os.MkdirTemp("", "pairbot-download-")
	if err != nil {
		return nil, fmt.Errorf("mega: create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmp) }()
	dst := filepath.Join(tmp, "blob")

	if _, err := withContext(ctx, func() (struct{}, error) {
		return struct{}{}, s.DownloadFile(file.Hash, dst)
	}); err != nil {
		return nil, fmt.Errorf("mega: download %q: %w", handle, err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return nil, fmt.Errorf("mega: stat download: %w", err)
	}
	if info.Size() > maxDownload {
		return nil, fmt.Errorf("mega: download too large (%d bytes)", info.Size())
	}
	buf, err := os.ReadFile(dst)
	if err != nil {
		return nil, fmt.Errorf("mega: read download: %w", err)
	}
	return buf, nil
}

// resolve finds the bundle whose public link carries handle and key. Only
// bundle names are considered, newest first, because asking for a link
// exports the node.
func (c *Client) resolve(s session, handle, key string) (remoteFile, error) {
	files, err := s.RootFiles()
	if err != nil {
		return remoteFile{}, fmt.Errorf("mega: list files: %w", err)
	}
	candidates := files[:0]
	for _, f := range files {
		if strings.HasPrefix(f.Name, domain.BundlePrefix) {
			candidates = append(candidates, f)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Modified.After(candidates[j].Modified)
	})

	for _, f := range candidates {
		link, err := s.ExportLink(f.Hash)
		if err != nil {
			return remoteFile{}, fmt.Errorf("mega: link %q: %w", f.Name, err)
		}
		h, k, ok := ParseLink(CanonicalLink(c.baseURL, link))
		if ok && h == handle && k == key {
			return f, nil
		}
	}
	return remoteFile{}, fmt.Errorf("%w: %s", ErrNotFound, handle)
}

// CanonicalLink rewrites legacy "#!handle!key" links and bare references
// to "<base>/file/<handle>#<key>". Other input is returned unchanged.
func CanonicalLink(baseURL, link string) string {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if fileLinkPattern.MatchString(link) {
		return link
	}
	if m := legacyLinkPattern.FindStringSubmatch(link); m != nil {
		return fmt.Sprintf("%s/file/%s#%s", baseURL, m[1], m[2])
	}
	if handle, key, ok := strings.Cut(link, "#"); ok && handle != "" && key != "" && !strings.ContainsAny(handle, "/:") {
		return fmt.Sprintf("%s/file/%s#%s", baseURL, handle, key)
	}
	return link
}

// ParseLink splits a canonical link into its file handle and key.
func ParseLink(link string) (handle, key string, ok bool) {
	m := fileLinkPattern.FindStringSubmatch(link)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// withContext runs fn and returns early when ctx ends; the SDK has no
// cancellation, so fn keeps running in the background in that case.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v: v, err: err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
