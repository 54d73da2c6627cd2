package builtin

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/odvcencio/quill/pkg/tool"
)

const (
	fetchTimeout      = 10 * time.Second
	fetchMaxChars     = 100_000
	fetchMaxBodyBytes = 5 * 1024 * 1024
)

var githubBlobRe = regexp.MustCompile(`^/([^/]+)/([^/]+)/blob/(.+)$`)

// WebFetchTool fetches a URL and converts HTML responses to plain text.
type WebFetchTool struct {
	// AllowPrivate permits requests resolving to private address ranges.
	AllowPrivate bool
	// Client overrides the HTTP client (tests).
	Client *http.Client
}

func (t *WebFetchTool) Name() string        { return "web_fetch" }
func (t *WebFetchTool) DisplayName() string { return "WebFetch" }
func (t *WebFetchTool) Kind() tool.Kind     { return tool.KindFetch }
func (t *WebFetchTool) Origin() tool.Origin { return tool.OriginBuiltin }

func (t *WebFetchTool) Description() string {
	return "Fetch a URL and return its content. HTML is converted to plain text with links stripped. GitHub blob URLs are rewritten to raw content. Responses are capped at 100,000 characters."
}

func (t *WebFetchTool) Parameters() tool.ParameterSchema {
	return tool.ParameterSchema{
		Type: "object",
		Properties: map[string]tool.PropertySchema{
			"url": {
				Type:        "string",
				Description: "URL to fetch (http or https)",
			},
		},
		Required: []string{"url"},
	}
}

func (t *WebFetchTool) Invocation(params map[string]any) (tool.Invocation, error) {
	raw, ok := params["url"].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("url parameter must be a non-empty string")
	}
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid url: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}

	return &tool.Run{
		Display: fmt.Sprintf("Fetch %s", parsed.Host),
		Func: func(ctx context.Context, onOutput tool.OutputFunc) (*tool.Result, error) {
			return t.fetch(ctx, parsed)
		},
	}, nil
}

func (t *WebFetchTool) fetch(ctx context.Context, target *url.URL) (*tool.Result, error) {
	target = rewriteGithubBlob(target)

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	client := t.Client
	if client == nil {
		client = &http.Client{}
	}
	// Every hop, the original request included, is checked against the
	// private-IP predicate.
	guarded := *client
	guarded.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return fmt.Errorf("too many redirects")
		}
		return t.checkHost(req.URL)
	}

	if err := t.checkHost(target); err != nil {
		return tool.Errorf("%v", err), nil
	}

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		return tool.Errorf("building request: %v", err), nil
	}
	req.Header.Set("User-Agent", "quill/1.0")

	resp, err := guarded.Do(req)
	if err != nil {
		if fetchCtx.Err() == context.DeadlineExceeded {
			return tool.Errorf("fetch timed out after %s", fetchTimeout), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return tool.Errorf("fetch failed: %v", err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tool.Errorf("fetch returned HTTP %d", resp.StatusCode), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBodyBytes))
	if err != nil {
		return tool.Errorf("reading response: %v", err), nil
	}

	contentType := resp.Header.Get("Content-Type")
	text := string(body)
	converted := false
	if contentType == "" || strings.Contains(contentType, "text/html") {
		text = htmlToText(text)
		converted = true
	}
	truncated := false
	if len(text) > fetchMaxChars {
		text = text[:fetchMaxChars]
		truncated = true
	}

	return tool.Ok(map[string]any{
		"url":          resp.Request.URL.String(),
		"status":       resp.StatusCode,
		"content_type": contentType,
		"content":      text,
		"converted":    converted,
		"truncated":    truncated,
	}), nil
}

// checkHost resolves the hostname and rejects private address ranges unless
// AllowPrivate is set.
func (t *WebFetchTool) checkHost(u *url.URL) error {
	if t.AllowPrivate {
		return nil
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing host")
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		resolved, err := net.LookupIP(host)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", host, err)
		}
		ips = resolved
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("refusing to fetch private address %s (%s)", host, ip)
		}
	}
	return nil
}

// isPrivateIP covers the ranges a fetch must not reach: IPv4 10/8, 127/8,
// 172.16/12, 192.168/16 and IPv6 ::1, fc00::/7, fe80::/10.
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		switch {
		case v4[0] == 10:
			return true
		case v4[0] == 172 && v4[1] >= 16 && v4[1] <= 31:
			return true
		case v4[0] == 192 && v4[1] == 168:
			return true
		}
		return false
	}
	// fc00::/7
	return len(ip) == net.IPv6len && (ip[0]&0xfe) == 0xfc
}

// rewriteGithubBlob turns github.com/<owner>/<repo>/blob/<ref>/<path> into
// its raw-content equivalent.
func rewriteGithubBlob(u *url.URL) *url.URL {
	if u.Host != "github.com" {
		return u
	}
	m := githubBlobRe.FindStringSubmatch(u.Path)
	if m == nil {
		return u
	}
	raw := *u
	raw.Host = "raw.githubusercontent.com"
	raw.Path = fmt.Sprintf("/%s/%s/%s", m[1], m[2], m[3])
	return &raw
}

// skippedContainers have their entire subtree dropped. img is void and has
// no subtree, so it simply produces no text.
var skippedContainers = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
	"svg":      true,
	"iframe":   true,
}

// htmlToText streams tokens out of an HTML document, skipping scripts,
// styles, and images, and dropping link targets. No line wrapping.
func htmlToText(source string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(source))
	var b strings.Builder
	depth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(collapseBlankLines(b.String()))
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if skippedContainers[tag] {
				depth++
				continue
			}
			if isBlockElement(tag) {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if skippedContainers[tag] && depth > 0 {
				depth--
				continue
			}
			if isBlockElement(tag) {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if depth > 0 {
				continue
			}
			text := strings.TrimSpace(string(tokenizer.Text()))
			if text != "" {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}
	}
}

func isBlockElement(tag string) bool {
	switch tag {
	case "p", "div", "br", "li", "ul", "ol", "h1", "h2", "h3", "h4", "h5", "h6",
		"tr", "table", "section", "article", "header", "footer", "pre", "blockquote":
		return true
	}
	return false
}

var blankLinesRe = regexp.MustCompile(`\n{3,}`)

func collapseBlankLines(s string) string {
	return blankLinesRe.ReplaceAllString(s, "\n\n")
}
