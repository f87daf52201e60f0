package httpplatform

import (
	"net"
	"net/http"
	"net/url"
)

const tlsPort = "443"

// RedirectHTTPS redirects all HTTP requests to HTTPS at tlsAddr.
// An empty host in tlsAddr keeps the host of the request.
// Requests other than GET and HEAD get 308, so clients repeat the method and body.
func RedirectHTTPS(tlsAddr string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := &url.URL{
			Scheme:   "https",
			Host:     targetHost(tlsAddr, r.Host),
			Path:     r.URL.Path,
			RawQuery: r.URL.RawQuery,
		}

		code := http.StatusMovedPermanently
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			code = http.StatusPermanentRedirect
		}

		http.Redirect(w, r, target.String(), code)
	})
}

func targetHost(tlsAddr, reqHost string) string {
	if h, _, err := net.SplitHostPort(reqHost); err == nil {
		reqHost = h
	}

	host, port, err := net.SplitHostPort(tlsAddr)
	if err != nil { // no port
		host, port = tlsAddr, tlsPort
	}
	if host == "" {
		host = reqHost
	}

	if port == tlsPort {
		return host
	}

	return net.JoinHostPort(host, port)
}
