package schulmanager

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// BUNDLE VERSION DETECTION
// ══════════════════════════════════════════════════════════════════════════════

// The /api/calls endpoint rejects requests whose bundleVersion does not
// match the currently deployed web client. The value is not served anywhere
// official; it is embedded in the platform's JavaScript bundles, so it has
// to be scraped from there and re-detected when the deployment changes.
const (
	// fallbackBundleVersion is the last known-good value, used when
	// detection fails outright.
	fallbackBundleVersion = "3505280ee7"

	// bundleVersionTTL bounds how long a detected value is reused.
	bundleVersionTTL = time.Hour

	// maxBundleBytes caps how much of a JS bundle is scanned.
	maxBundleBytes = 4 << 20
)

var (
	scriptSrcPattern     = regexp.MustCompile(`(?i)<script[^>]+src=["']([^"']+\.js[^"']*)["']`)
	bundleVersionPattern = regexp.MustCompile(`(?i)["']?bundleVersion["']?\s*[:=]\s*["']([a-f0-9]{8,})["']`)
)

// bundleResolver detects and caches the platform's current bundleVersion.
type bundleResolver struct {
	http    *http.Client
	baseURL string
	logger  *slog.Logger

	mu      sync.Mutex
	version string
	expires time.Time
}

func newBundleResolver(httpClient *http.Client, baseURL string, logger *slog.Logger) *bundleResolver {
	return &bundleResolver{
		http:    httpClient,
		baseURL: baseURL,
		logger:  logger,
	}
}

// Version returns the current bundleVersion. Detection failures degrade to
// the cached or fallback value; a stale bundleVersion produces a
// deterministic upstream rejection on the next call, which is preferable to
// failing every batch locally.
func (b *bundleResolver) Version(ctx context.Context) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.version != "" && time.Now().Before(b.expires) {
		return b.version
	}

	version := b.detect(ctx)
	if version == "" {
		version = fallbackBundleVersion
		b.logger.Warn("bundleVersion detection failed, using fallback", "version", version)
	} else {
		b.logger.Debug("detected bundleVersion", "version", version)
	}

	b.version = version
	b.expires = time.Now().Add(bundleVersionTTL)
	return version
}

// Invalidate drops the cached value so the next Version re-detects.
func (b *bundleResolver) Invalidate() {
	b.mu.Lock()
	b.version = ""
	b.mu.Unlock()
}

func (b *bundleResolver) detect(ctx context.Context) string {
	page, err := b.fetch(ctx, b.baseURL)
	if err != nil {
		b.logger.Debug("fetch main page for bundleVersion", "error", err)
		return ""
	}

	for _, match := range scriptSrcPattern.FindAllStringSubmatch(page, -1) {
		url := b.absoluteURL(match[1])
		js, err := b.fetch(ctx, url)
		if err != nil {
			continue
		}
		if version := findBundleVersion(js); version != "" {
			return version
		}
	}
	return ""
}

func (b *bundleResolver) absoluteURL(src string) string {
	switch {
	case strings.HasPrefix(src, "http"):
		return src
	case strings.HasPrefix(src, "/"):
		return b.baseURL + src
	default:
		return b.baseURL + "/" + src
	}
}

func (b *bundleResolver) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &APICallError{Status: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBundleBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// findBundleVersion scans JS content for a bundleVersion assignment and
// validates that the candidate sits in API-call context rather than being an
// unrelated hex literal.
func findBundleVersion(js string) string {
	for _, match := range bundleVersionPattern.FindAllStringSubmatchIndex(js, -1) {
		candidate := js[match[2]:match[3]]
		if inAPIContext(js, match[2]) {
			return candidate
		}
	}
	return ""
}

func inAPIContext(js string, pos int) bool {
	start := pos - 1000
	if start < 0 {
		start = 0
	}
	end := pos + 1000
	if end > len(js) {
		end = len(js)
	}
	window := strings.ToLower(js[start:end])

	for _, term := range []string{"api/calls", "/api/", "httpclient", "fetch"} {
		if strings.Contains(window, term) {
			return true
		}
	}
	return false
}
