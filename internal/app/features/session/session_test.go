package session

import (
	"encoding/json"
	"net/http"
	"testing"

	"go.uber.org/zap"

	"github.com/mossrock/roomdrop/internal/testutil"
)

func TestCurrentReturnsSessionID(t *testing.T) {
	h := NewHandler(zap.NewNop())

	sid := testutil.TestSessionID()
	req := testutil.NewSessionRequest(http.MethodGet, "/api/session", nil, sid)
	rec := testutil.NewRecorder()

	h.Current(rec, req)

	rec.AssertStatus(t, http.StatusOK)

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["session_id"] != sid {
		t.Errorf("session_id = %q, want %q", resp["session_id"], sid)
	}
	// Without the CSRF middleware the token is empty; the key must
	// still be present.
	if _, ok := resp["csrf_token"]; !ok {
		t.Error("csrf_token missing from response")
	}
}

func TestCurrentWithoutSession(t *testing.T) {
	h := NewHandler(zap.NewNop())

	req := testutil.NewRequest(http.MethodGet, "/api/session", nil)
	rec := testutil.NewRecorder()

	h.Current(rec, req)

	rec.AssertStatus(t, http.StatusInternalServerError)
}
