// Package snapshot implements a [capture.Camera] backed by an HTTP still-image
// endpoint, as exposed by most IP cameras and webcam bridges.
//
// Each Frame call issues one GET request and decodes the JPEG or PNG body.
// HTTP 401 and 403 map to [capture.ErrPermissionDenied]; any other failure
// maps to [capture.ErrDeviceUnavailable].
package snapshot

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/parley/pkg/capture"
)

const (
	defaultTimeout = 5 * time.Second

	// maxBody bounds a single snapshot download.
	maxBody = 16 << 20
)

var (
	_ capture.Camera      = (*Camera)(nil)
	_ capture.VideoSource = (*source)(nil)
)

// Option configures a [Camera].
type Option func(*Camera)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cam *Camera) { cam.client = c }
}

// WithBasicAuth sets credentials sent with every request.
func WithBasicAuth(user, password string) Option {
	return func(cam *Camera) {
		cam.user = user
		cam.password = password
	}
}

// Camera fetches frames from a snapshot URL.
type Camera struct {
	url      string
	user     string
	password string
	client   *http.Client
}

// New creates a Camera for url.
func New(url string, opts ...Option) (*Camera, error) {
	if url == "" {
		return nil, fmt.Errorf("snapshot: url must not be empty")
	}
	c := &Camera{
		url: url,
		client: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Open probes the endpoint once so that permission and availability problems
// surface at acquisition time rather than on the first sampling tick.
func (c *Camera) Open(ctx context.Context) (capture.VideoSource, error) {
	if _, err := c.fetch(ctx); err != nil {
		return nil, err
	}
	return &source{cam: c}, nil
}

func (c *Camera) fetch(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: build request: %w", err)
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot: %w", capture.ErrDeviceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: snapshot: status %d", capture.ErrPermissionDenied, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: snapshot: status %d", capture.ErrDeviceUnavailable, resp.StatusCode)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot: decode: %w", capture.ErrDeviceUnavailable, err)
	}
	return img, nil
}

type source struct {
	cam *Camera

	mu     sync.Mutex
	closed bool
}

func (s *source) Frame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: snapshot: source closed", capture.ErrDeviceUnavailable)
	}
	return s.cam.fetch(ctx)
}

func (s *source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
