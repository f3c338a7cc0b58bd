// security.go writes the protective response headers. The JSON API and the
// server-rendered pages share a baseline and differ in what their
// Content-Security-Policy allows.
package middleware

import (
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// hstsMaxAge is advertised only when the public base URL is https.
const hstsMaxAge = 365 * 24 * time.Hour

// Content-Security-Policy values. Pages embed their stylesheet inline, post
// the submit form to themselves and run no script; API responses are data.
const (
	apiCSP  = "default-src 'none'; frame-ancestors 'none'"
	pageCSP = "default-src 'self'; script-src 'none'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; form-action 'self'; frame-ancestors 'none'"
)

// Surface is a part of the directory with its own header policy.
type Surface int

const (
	// SurfaceAPI covers /api: JSON reads, submissions and webhooks.
	SurfaceAPI Surface = iota
	// SurfacePages covers the HTML pages.
	SurfacePages
)

// HeaderPolicy is the fixed set of headers written on every response of one
// surface.
type HeaderPolicy struct {
	headers [][2]string
}

// NewHeaderPolicy builds the policy for s. HSTS is only sent when baseURL,
// the public address of the directory, is served over https.
func NewHeaderPolicy(s Surface, baseURL string) HeaderPolicy {
	h := [][2]string{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Cross-Origin-Opener-Policy", "same-origin"},
	}
	switch s {
	case SurfacePages:
		h = append(h,
			[2]string{"Content-Security-Policy", pageCSP},
			[2]string{"Referrer-Policy", "strict-origin-when-cross-origin"},
			[2]string{"Permissions-Policy", "geolocation=(), microphone=(), camera=()"},
			[2]string{"Cross-Origin-Resource-Policy", "same-origin"},
		)
	default:
		// Browsers on other origins read the API through CORS.
		h = append(h,
			[2]string{"Content-Security-Policy", apiCSP},
			[2]string{"Referrer-Policy", "no-referrer"},
			[2]string{"Cross-Origin-Resource-Policy", "cross-origin"},
		)
	}
	if u, err := url.Parse(baseURL); err == nil && u.Scheme == "https" {
		h = append(h, [2]string{"Strict-Transport-Security", "max-age=" + strconv.Itoa(int(hstsMaxAge.Seconds()))})
	}
	return HeaderPolicy{headers: h}
}

// Get returns the value p writes for header, or "".
func (p HeaderPolicy) Get(header string) string {
	for _, kv := range p.headers {
		if kv[0] == header {
			return kv[1]
		}
	}
	return ""
}

// SecurityHeadersMiddleware writes p before the handler runs, so error
// responses and aborted requests carry it too.
func SecurityHeadersMiddleware(p HeaderPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, kv := range p.headers {
			c.Header(kv[0], kv[1])
		}
		c.Next()
	}
}
