package searchclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/codeready-toolchain/deepcite/internal/config"
	"github.com/codeready-toolchain/deepcite/internal/ratelimit"
	"github.com/codeready-toolchain/deepcite/internal/search"
)

// userAgents are rotated per request so a single repeated UA doesn't draw
// attention from sites that rate-limit by user agent.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// Scraper fetches and extracts page text, guarding against SSRF by
// validating the URL's scheme and resolved address before every request.
type Scraper struct {
	httpClient *http.Client
	maxContent int
	limiters   *ratelimit.Limiters
	maxRetries int
}

// NewScraper builds a Scraper from config.
func NewScraper(cfg config.ScrapingConfig, limiters *ratelimit.Limiters) *Scraper {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &Scraper{
		httpClient: &http.Client{Timeout: timeout},
		maxContent: 50_000,
		limiters:   limiters,
		maxRetries: retries,
	}
}

// ErrUnsafeURL is returned when a URL fails the SSRF validation checks.
type ErrUnsafeURL struct {
	URL    string
	Reason string
}

func (e *ErrUnsafeURL) Error() string {
	return fmt.Sprintf("unsafe url %q: %s", e.URL, e.Reason)
}

// validateURL rejects non-http(s) schemes and URLs whose hostname resolves
// to a private, loopback, link-local, or otherwise non-public address,
// mirroring the prior implementation's socket.getaddrinfo + ipaddress
// checks.
func validateURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &ErrUnsafeURL{URL: rawURL, Reason: "unparseable"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ErrUnsafeURL{URL: rawURL, Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	hostname := u.Hostname()
	if hostname == "" {
		return &ErrUnsafeURL{URL: rawURL, Reason: "no hostname"}
	}

	resolver := &net.Resolver{}
	addrs, err := resolver.LookupIPAddr(ctx, hostname)
	if err != nil {
		// DNS failure is left for the HTTP request itself to surface, same
		// as the prior implementation's "pass on gaierror" behavior.
		return nil
	}
	for _, addr := range addrs {
		ip := addr.IP
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || isReserved(ip) {
			return &ErrUnsafeURL{URL: rawURL, Reason: fmt.Sprintf("resolves to non-public address %s", ip)}
		}
	}
	return nil
}

func isReserved(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4[0] == 0 || ip4[0] >= 240
	}
	return ip.IsUnspecified()
}

var (
	anyTagPattern = regexp.MustCompile(`(?s)<[^>]+>`)
	titlePattern  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	wsPattern     = regexp.MustCompile(`[ \t]+`)
)

func stripUnwantedBlocks(html string) string {
	for _, tag := range []string{"script", "style", "nav", "footer", "header", "aside", "form", "button", "iframe", "noscript"} {
		pat := regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
		html = pat.ReplaceAllString(html, "")
	}
	return html
}

// extractText strips tags and collapses markup into a flat, line-per-block
// plain-text rendition, a deliberately simpler stand-in for the prior
// implementation's BeautifulSoup main-content heuristics — good enough for
// quality scoring and LLM note-taking, not intended as a layout-preserving
// renderer.
func extractText(html string) string {
	html = stripUnwantedBlocks(html)
	text := anyTagPattern.ReplaceAllString(html, "\n")
	text = htmlUnescape(text)

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(wsPattern.ReplaceAllString(line, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func htmlUnescape(s string) string {
	replacer := strings.NewReplacer(
		"&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">",
		"&quot;", `"`, "&#39;", "'",
	)
	return replacer.Replace(s)
}

func extractTitle(html string) string {
	m := titlePattern.FindStringSubmatch(html)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(htmlUnescape(m[1]))
}

// Scrape fetches url and returns its title and extracted text content. It
// validates the URL first (SSRF guard), waits on the shared scrape rate
// limiter, then performs a GET with a rotated user agent, retrying
// transient failures with exponential backoff up to maxRetries.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (title, content string, err error) {
	if err := validateURL(ctx, rawURL); err != nil {
		return "", "", err
	}
	if s.limiters != nil {
		if err := s.limiters.WaitScrape(ctx); err != nil {
			return "", "", fmt.Errorf("waiting for scrape rate limit: %w", err)
		}
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		title, content, err = s.doScrape(ctx, rawURL)
		if err == nil {
			return title, content, nil
		}
		lastErr = err
		if !errors.Is(lastErr, search.ErrTransientNetwork) {
			return "", "", lastErr
		}

		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return "", "", fmt.Errorf("searchclient: exhausted %d scrape retries: %w", s.maxRetries, lastErr)
}

func (s *Scraper) doScrape(ctx context.Context, rawURL string) (title, content string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("building scrape request: %w", err)
	}
	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: scraping %q: %v", search.ErrTransientNetwork, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", "", fmt.Errorf("%w: scraping %q: status %d", search.ErrTransientNetwork, rawURL, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("scraping %q: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(s.maxContent*4)))
	if err != nil {
		return "", "", fmt.Errorf("reading scrape response for %q: %w", rawURL, err)
	}

	html := string(body)
	title = extractTitle(html)
	content = extractText(html)
	if len(content) > s.maxContent {
		content = content[:s.maxContent]
	}
	return title, content, nil
}
