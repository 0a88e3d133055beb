// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package library

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/sethvargo/go-retry"
	"golang.org/x/crypto/blake2b"
)

// Defaults for remote fetches.
const (
	DefaultTimeout  = 10 * time.Second
	DefaultRetries  = 3
	DefaultBackoff  = 200 * time.Millisecond
	maxDocumentSize = 8 << 20
)

// ErrUnsupportedScheme is returned for URLs the fetcher cannot read.
var ErrUnsupportedScheme = errors.New("unsupported URL scheme")

// Fetcher reads library documents and extension sources from http(s),
// file and data URLs.
type Fetcher struct {
	client      *http.Client
	retries     uint64
	backoff     time.Duration
	hostVersion *semver.Version
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient sets the client used for http(s) URLs.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithRetries sets how many times a failed remote fetch is retried.
func WithRetries(n uint64, backoff time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.retries = n
		f.backoff = backoff
	}
}

// WithHostVersion filters out entries whose requires constraint rejects v.
func WithHostVersion(v *semver.Version) FetcherOption {
	return func(f *Fetcher) {
		f.hostVersion = v
	}
}

// NewFetcher creates a fetcher.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{Timeout: DefaultTimeout},
		retries: DefaultRetries,
		backoff: DefaultBackoff,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch reads and parses the document at rawURL. Entries the host version
// does not satisfy are dropped, and duplicate ids keep the newest version.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	data, err := f.Read(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("library %s: %w", rawURL, err)
	}
	doc.URL = rawURL
	doc.Digest = Digest(data)
	doc.Extensions = f.filter(doc.Extensions)
	return doc, nil
}

func (f *Fetcher) filter(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	index := make(map[string]int, len(entries))
	for _, e := range entries {
		if !e.Supports(f.hostVersion) {
			slog.Warn("skipping extension that does not support this host",
				"extension", e.ID,
				"requires", e.Requires,
				"host", f.hostVersion)
			continue
		}
		if i, ok := index[e.ID]; ok {
			if e.Newer(&out[i]) {
				out[i] = e
			}
			continue
		}
		index[e.ID] = len(out)
		out = append(out, e)
	}
	return out
}

// Read returns the raw bytes at rawURL.
func (f *Fetcher) Read(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		return f.readHTTP(ctx, u.String())
	case "file":
		data, err := os.ReadFile(u.Path) //nolint:gosec // path comes from an operator-configured or gate-approved URL
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", u.Path, err)
		}
		return data, nil
	case "data":
		_, data, err := DecodeDataURL(rawURL)
		return data, err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

func (f *Fetcher) readHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	b := retry.WithMaxRetries(f.retries, retry.NewExponential(f.backoff))

	var body []byte
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return retry.RetryableError(fmt.Errorf("GET %s: %s", rawURL, resp.Status))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("GET %s: %s", rawURL, resp.Status)
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // errors above already name the URL
	}
	return body, nil
}

// Digest returns the hex BLAKE2b-256 of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
