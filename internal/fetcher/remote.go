// Package fetcher retrieves safety-list documents from their configured
// source, remote or local.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/navguard/navguard/internal/safety"
	"github.com/navguard/navguard/internal/telemetry"
)

const defaultMaxBodyBytes = 1 << 20

// Pacer throttles outbound requests per key.
type Pacer interface {
	Wait(ctx context.Context, key string) error
}

// RemoteConfig controls the HTTP list fetcher.
type RemoteConfig struct {
	URL          string
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
}

// Remote fetches the list document over HTTP using conditional requests so
// an unchanged document costs a 304 instead of a full body.
type Remote struct {
	client    *http.Client
	url       string
	host      string
	maxBody   int64
	userAgent string
	pacer     Pacer
	logger    *zap.Logger

	mu   sync.Mutex
	etag string
}

// NewRemote builds a Remote fetcher. The pacer may be nil.
func NewRemote(cfg RemoteConfig, pacer Pacer, logger *zap.Logger) *Remote {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	host := ""
	if u, err := url.Parse(cfg.URL); err == nil {
		host = u.Hostname()
	}
	return &Remote{
		client: &http.Client{
			Timeout:   timeout,
			Transport: newHTTPTransport(),
		},
		url:       cfg.URL,
		host:      host,
		maxBody:   maxBody,
		userAgent: cfg.UserAgent,
		pacer:     pacer,
		logger:    logger,
	}
}

// Source returns the configured document URL.
func (r *Remote) Source() string {
	return r.url
}

// Fetch performs one conditional GET of the list document.
func (r *Remote) Fetch(ctx context.Context) (safety.Payload, error) {
	if r.pacer != nil {
		if err := r.pacer.Wait(ctx, r.host); err != nil {
			return safety.Payload{}, fmt.Errorf("pace fetch: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return safety.Payload{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	etag := r.currentETag()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		telemetry.ObserveFetch(r.url, "error", 0)
		return safety.Payload{}, fmt.Errorf("fetch %s: %w", r.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		telemetry.ObserveFetch(r.url, strconv.Itoa(resp.StatusCode), 0)
		r.logger.Debug("list document not modified", zap.String("source", r.url), zap.String("etag", etag))
		return safety.Payload{Source: r.url, ETag: etag, NotModified: true}, nil
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		telemetry.ObserveFetch(r.url, strconv.Itoa(resp.StatusCode), 0)
		return safety.Payload{}, &safety.StatusError{StatusCode: resp.StatusCode, Source: r.url}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBody+1))
	if err != nil {
		telemetry.ObserveFetch(r.url, "error", 0)
		return safety.Payload{}, fmt.Errorf("read body from %s: %w", r.url, err)
	}
	if int64(len(body)) > r.maxBody {
		telemetry.ObserveFetch(r.url, "oversize", len(body))
		return safety.Payload{}, fmt.Errorf("list document from %s exceeds %d bytes", r.url, r.maxBody)
	}

	newTag := resp.Header.Get("ETag")
	r.setETag(newTag)
	telemetry.ObserveFetch(r.url, strconv.Itoa(resp.StatusCode), len(body))
	return safety.Payload{Body: body, Source: r.url, ETag: newTag}, nil
}

func (r *Remote) currentETag() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.etag
}

func (r *Remote) setETag(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.etag = tag
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
