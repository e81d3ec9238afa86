package stages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fenwick-labs/etlq/internal/stageerr"
)

const stageFetch = "fetch"

// FetchResult is the fetch stage's output (spec §4.2).
type FetchResult struct {
	Bytes       []byte
	ContentType string
	FinalURL    string
}

// Fetch retrieves url, enforcing timeout and max_bytes, and refusing to
// dial or follow a redirect into a private, loopback, or link-local address
// (SPEC_FULL.md §12's SSRF hardening).
func Fetch(ctx context.Context, rawURL string, timeout time.Duration, maxBytes int64) (*FetchResult, error) {
	u := strings.TrimSpace(rawURL)
	if u == "" {
		return nil, stageerr.BadInput(stageFetch, errors.New("empty url"))
	}
	if !isAllowedFetchURL(ctx, u) {
		return nil, stageerr.BadInput(stageFetch, fmt.Errorf("url not allowed: %s", u))
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}

	client := &http.Client{Timeout: timeout}
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 6 {
			return errors.New("too many redirects")
		}
		if req == nil || req.URL == nil {
			return errors.New("redirect missing url")
		}
		if !isAllowedFetchURL(req.Context(), req.URL.String()) {
			return fmt.Errorf("redirect blocked: %s", req.URL.String())
		}
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, stageerr.BadInput(stageFetch, err)
	}
	req.Header.Set("User-Agent", "etlq/1.0 (pipeline fetcher)")
	req.Header.Set("Accept", "text/html, application/json, application/xml, text/plain, */*;q=0.1")

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeoutErr(err) {
			return nil, stageerr.TransientIO(stageFetch, err)
		}
		return nil, stageerr.TransientIO(stageFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, stageerr.Upstream5xx(stageFetch, fmt.Errorf("http %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, stageerr.Upstream4xx(stageFetch, fmt.Errorf("http %d", resp.StatusCode))
	}

	ctype := strings.TrimSpace(resp.Header.Get("Content-Type"))
	mediaType := ""
	if ctype != "" {
		if mt, _, err := mime.ParseMediaType(ctype); err == nil {
			mediaType = mt
		}
	}

	limited := io.LimitReader(resp.Body, maxBytes+1)
	b, err := io.ReadAll(limited)
	if err != nil {
		return nil, stageerr.TransientIO(stageFetch, err)
	}
	if int64(len(b)) > maxBytes {
		return nil, stageerr.TooLarge(stageFetch, fmt.Errorf("response too large (> %d bytes)", maxBytes))
	}
	if mediaType == "" && len(b) > 0 {
		n := len(b)
		if n > 512 {
			n = 512
		}
		mediaType = http.DetectContentType(b[:n])
	}

	finalURL := u
	if resp.Request != nil && resp.Request.URL != nil {
		if fu := strings.TrimSpace(resp.Request.URL.String()); fu != "" {
			finalURL = fu
		}
	}
	return &FetchResult{Bytes: b, ContentType: mediaType, FinalURL: finalURL}, nil
}

// allowLoopback lets local development and tests point fetch at a loopback
// HTTP server without disabling SSRF hardening in production, where the
// variable is unset.
func allowLoopback() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("FETCH_ALLOW_LOOPBACK")))
	return v == "1" || v == "true" || v == "yes"
}

func isTimeoutErr(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isAllowedFetchURL accepts http and https URLs and blocks targets that
// resolve to private, loopback, or link-local addresses. With
// FETCH_ALLOW_LOOPBACK set, any http(s) host is accepted and no address
// check runs.
func isAllowedFetchURL(ctx context.Context, raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "https" && scheme != "http" {
		return false
	}
	host := strings.ToLower(strings.TrimSpace(u.Hostname()))
	if host == "" {
		return false
	}
	if allowLoopback() {
		return true
	}
	if host == "localhost" || strings.HasSuffix(host, ".local") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return !isPrivateIP(ip)
	}

	resCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ips, err := net.DefaultResolver.LookupIP(resCtx, "ip", host)
	if err != nil || len(ips) == 0 {
		return false
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return false
		}
	}
	return true
}

func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4.IsLoopback(), ip4.IsLinkLocalMulticast(), ip4.IsLinkLocalUnicast():
			return true
		case ip4[0] == 10:
			return true
		case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31:
			return true
		case ip4[0] == 192 && ip4[1] == 168:
			return true
		case ip4[0] == 127:
			return true
		case ip4[0] == 169 && ip4[1] == 254:
			return true
		default:
			return false
		}
	}
	// IPv6: conservatively treat anything non-global-unicast as private.
	return !ip.IsGlobalUnicast() || ip.IsPrivate()
}
