package httpplatform_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmksnnk/gamebroker/internal/auth"
	"github.com/dmksnnk/gamebroker/internal/platform/httpplatform"
	"github.com/google/uuid"
)

func TestAuthenticate(t *testing.T) {
	secret := []byte("secret")
	id := uuid.New()
	token := auth.NewToken(id, secret)

	handler := httpplatform.Authenticate(secret, httpplatform.TokenFromHeader(httpplatform.TokenHeader))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotID, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				t.Fatal("identity not found in context")
			}

			if want, got := id, gotID; want != got {
				t.Errorf("want identity %s, got %s", want, got)
			}
		}),
	)

	tests := map[string]struct {
		token      string
		wantStatus int
	}{
		"valid token": {
			token:      token.String(),
			wantStatus: http.StatusOK,
		},
		"malformed token": {
			token:      "invalid",
			wantStatus: http.StatusUnauthorized,
		},
		"signed with other secret": {
			token:      auth.NewToken(id, []byte("other")).String(),
			wantStatus: http.StatusUnauthorized,
		},
		"missing token": {
			wantStatus: http.StatusUnauthorized,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.token != "" {
				req.Header.Set(httpplatform.TokenHeader, tt.token)
			}

			handler.ServeHTTP(rec, req)

			if tt.wantStatus != rec.Code {
				t.Errorf("want status: %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestAllowHosts(t *testing.T) {
	tests := map[string]struct {
		allowed    []string
		host       string
		wantStatus int
	}{
		"allowed host": {
			allowed:    []string{"example.com"},
			host:       "example.com",
			wantStatus: http.StatusOK,
		},
		"allowed host with port": {
			allowed:    []string{"example.com"},
			host:       "example.com:1234",
			wantStatus: http.StatusOK,
		},
		"forbidden host": {
			allowed:    []string{"example.com"},
			host:       "example.org",
			wantStatus: http.StatusForbidden,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "http://"+tt.host, http.NoBody)
			handler := httpplatform.AllowHosts(tt.allowed)(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
			)

			handler.ServeHTTP(rec, req)

			if tt.wantStatus != rec.Code {
				t.Errorf("want status: %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestLogRequests(t *testing.T) {
	secret := []byte("secret")
	id := uuid.New()
	token := auth.NewToken(id, secret)

	logs := make(logLines, 1)
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	handler := httpplatform.Wrap(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
		httpplatform.LogRequests(logger),
		httpplatform.Authenticate(secret, httpplatform.TokenFromHeader(httpplatform.TokenHeader)),
	)

	req := httptest.NewRequest(http.MethodGet, "/games?host_id="+id.String(), http.NoBody)
	req.Header.Set(httpplatform.TokenHeader, token.String())
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var line string
	select {
	case l := <-logs:
		line = string(l)
	case <-time.After(time.Second):
		t.Fatal("no log line")
	}

	if strings.Contains(line, token.String()) {
		t.Errorf("token leaked into logs: %s", line)
	}
	if !strings.Contains(line, "[redacted]") {
		t.Errorf("token header is not redacted: %s", line)
	}
	if !strings.Contains(line, "identity="+id.String()) {
		t.Errorf("identity is not logged: %s", line)
	}
}

// logLines delivers every written log line to the channel, dropping it if the channel is full.
type logLines chan []byte

func (l logLines) Write(p []byte) (int, error) {
	select {
	case l <- bytes.Clone(p): // the handler reuses p
	default:
	}

	return len(p), nil
}
