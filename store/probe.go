package store

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// genericBinary is what mimetype reports for binary content it cannot
// classify further. Text formats also descend from it, so only the detected
// type itself is compared, never its ancestry.
const genericBinary = "application/octet-stream"

// Prober reports whether a playback URL still serves content.
type Prober interface {
	Probe(ctx context.Context, url string) bool
}

type ProberFunc func(ctx context.Context, url string) bool

func (f ProberFunc) Probe(ctx context.Context, url string) bool {
	return f(ctx, url)
}

type HTTPProber struct {
	client  *http.Client
	timeout time.Duration
}

func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		client:  &http.Client{}, //nolint:exhaustruct
		timeout: timeout,
	}
}

// Probe issues a HEAD request and accepts only a 200 status. Servers that
// refuse HEAD get a ranged GET whose first bytes must sniff as audio, video or
// unclassified binary.
func (p *HTTPProber) Probe(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if nil != err {
		return false
	}

	resp, err := p.client.Do(req)
	if nil != err {
		return false
	}
	_ = resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true
	case http.StatusMethodNotAllowed:
		return p.probeRange(ctx, url)
	default:
		return false
	}
}

func (p *HTTPProber) probeRange(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if nil != err {
		return false
	}
	req.Header.Set("Range", "bytes=0-511")

	resp, err := p.client.Do(req)
	if nil != err {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return false
	}

	head, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if nil != err || len(head) == 0 {
		return false
	}

	mt := mimetype.Detect(head)
	if mt.Is(genericBinary) {
		return true
	}
	for ; nil != mt; mt = mt.Parent() {
		if strings.HasPrefix(mt.String(), "audio/") || strings.HasPrefix(mt.String(), "video/") {
			return true
		}
	}

	return false
}
