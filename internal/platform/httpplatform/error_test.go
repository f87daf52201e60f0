package httpplatform_test

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/dmksnnk/gamebroker/internal/platform/httpplatform"
)

func TestBadStatusCodeError(t *testing.T) {
	tests := map[string]struct {
		status  int
		body    string
		wantMsg string
	}{
		"with body": {
			status:  http.StatusNotFound,
			body:    "game not found\n",
			wantMsg: "bad status code: 404: game not found",
		},
		"empty body": {
			status:  http.StatusBadGateway,
			wantMsg: "bad status code: 502 Bad Gateway",
		},
		"long body": {
			status:  http.StatusInternalServerError,
			body:    strings.Repeat("x", 1000),
			wantMsg: "bad status code: 500: " + strings.Repeat("x", 256),
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := httpplatform.NewBadStatusCodeError(tt.status, strings.NewReader(tt.body))
			if want, got := tt.wantMsg, err.Error(); want != got {
				t.Errorf("want: %q, got: %q", want, got)
			}
		})
	}
}

func TestHasStatus(t *testing.T) {
	err := fmt.Errorf("join game: %w", httpplatform.NewBadStatusCodeError(http.StatusNotFound, http.NoBody))

	if !httpplatform.IsNotFound(err) {
		t.Error("expected not found")
	}
	if httpplatform.IsUnauthorized(err) {
		t.Error("unexpected unauthorized")
	}
	if httpplatform.HasStatus(fmt.Errorf("plain"), http.StatusNotFound) {
		t.Error("plain error has no status")
	}
}
