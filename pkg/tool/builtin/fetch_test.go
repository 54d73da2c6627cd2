package builtin

import (
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPrivateIP(t *testing.T) {
	private := []string{
		"10.0.0.1", "10.255.255.255",
		"127.0.0.1",
		"172.16.0.1", "172.31.255.255",
		"192.168.1.1",
		"::1", "fc00::1", "fd12::1", "fe80::1",
	}
	for _, raw := range private {
		ip := net.ParseIP(raw)
		require.NotNil(t, ip, raw)
		assert.True(t, isPrivateIP(ip), raw)
	}

	public := []string{"8.8.8.8", "172.32.0.1", "172.15.0.1", "93.184.216.34", "2606:2800:220:1::1"}
	for _, raw := range public {
		ip := net.ParseIP(raw)
		require.NotNil(t, ip, raw)
		assert.False(t, isPrivateIP(ip), raw)
	}
}

func TestCheckHostAllowPrivate(t *testing.T) {
	u, _ := url.Parse("http://127.0.0.1/x")

	tl := &WebFetchTool{}
	require.Error(t, tl.checkHost(u))

	tl.AllowPrivate = true
	require.NoError(t, tl.checkHost(u))
}

func TestRewriteGithubBlob(t *testing.T) {
	u, _ := url.Parse("https://github.com/owner/repo/blob/main/pkg/tool/tool.go")
	rewritten := rewriteGithubBlob(u)
	assert.Equal(t, "raw.githubusercontent.com", rewritten.Host)
	assert.Equal(t, "/owner/repo/main/pkg/tool/tool.go", rewritten.Path)

	// Non-blob github URLs and other hosts pass through.
	u, _ = url.Parse("https://github.com/owner/repo/pull/1")
	assert.Same(t, u, rewriteGithubBlob(u))

	u, _ = url.Parse("https://example.com/owner/repo/blob/main/x")
	assert.Same(t, u, rewriteGithubBlob(u))
}

func TestHtmlToText(t *testing.T) {
	source := `<html><head><title>skip me</title><style>p{color:red}</style></head>
<body><h1>Title</h1><p>First <a href="http://example.com">link text</a> end.</p>
<script>var x = 1;</script><img src="pic.png" alt="ignored">
<ul><li>one</li><li>two</li></ul></body></html>`

	text := htmlToText(source)
	assert.Contains(t, text, "Title")
	assert.Contains(t, text, "link text")
	assert.Contains(t, text, "one")
	assert.NotContains(t, text, "var x")
	assert.NotContains(t, text, "color:red")
	assert.NotContains(t, text, "skip me")
	assert.NotContains(t, text, "http://example.com", "link targets are stripped")
	assert.NotContains(t, text, "pic.png")
}

func TestWebFetchInvocationValidation(t *testing.T) {
	tl := &WebFetchTool{}

	_, err := tl.Invocation(map[string]any{"url": "ftp://example.com/f"})
	require.Error(t, err)

	_, err = tl.Invocation(map[string]any{"url": ""})
	require.Error(t, err)

	inv, err := tl.Invocation(map[string]any{"url": "https://example.com/page"})
	require.NoError(t, err)
	assert.Equal(t, "Fetch example.com", inv.DisplayName())
	assert.False(t, inv.NeedsConfirmation())
}
