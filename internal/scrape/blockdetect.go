package scrape

import (
	"bytes"
	"net/http"
)

// BlockType describes why a response is not the page that was asked for.
type BlockType string

const (
	BlockNone         BlockType = ""
	BlockCloudflare   BlockType = "cloudflare"
	BlockCaptcha      BlockType = "captcha"
	BlockAccessDenied BlockType = "access_denied"
	BlockRateLimited  BlockType = "rate_limited"
	BlockJSShell      BlockType = "js_shell"
)

// jsShellMaxBytes bounds the size of a page treated as a JavaScript shell.
// Larger pages usually carry real content next to their noscript fallback.
const jsShellMaxBytes = 2000

type bodyMarker struct {
	block BlockType
	all   [][]byte
}

// Checked in order; every needle in all must appear in the lowercased body.
var bodyMarkers = []bodyMarker{
	{BlockCloudflare, [][]byte{[]byte("checking your browser")}},
	{BlockCloudflare, [][]byte{[]byte("cf-browser-verification")}},
	{BlockCloudflare, [][]byte{[]byte("cloudflare"), []byte("challenge")}},
	{BlockCaptcha, [][]byte{[]byte("captcha")}},
	{BlockAccessDenied, [][]byte{[]byte("<title>access denied</title>")}},
	{BlockAccessDenied, [][]byte{[]byte("you don't have permission to access")}},
}

// DetectBlock checks an HTTP response for anti-bot pages, rate limiting and
// JavaScript-only shells. A blocked page is worth retrying in the browser.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return true, BlockRateLimited
	case http.StatusForbidden, http.StatusServiceUnavailable:
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-cache-status") != "" ||
			resp.Header.Get("server") == "cloudflare" {
			return true, BlockCloudflare
		}
	}

	lower := bytes.ToLower(body)
	for _, m := range bodyMarkers {
		if containsAll(lower, m.all) {
			return true, m.block
		}
	}

	if len(body) < jsShellMaxBytes {
		if bytes.Contains(lower, []byte("<noscript")) && bytes.Contains(lower, []byte("javascript")) {
			return true, BlockJSShell
		}
		if bytes.Contains(lower, []byte(`meta http-equiv="refresh"`)) {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}

func containsAll(haystack []byte, needles [][]byte) bool {
	for _, n := range needles {
		if !bytes.Contains(haystack, n) {
			return false
		}
	}
	return true
}
