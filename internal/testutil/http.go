package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/mossrock/roomdrop/internal/app/system/identity"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TestSessionID returns a fresh opaque session id for tests. Hex object
// ids are as good as any other random string here.
func TestSessionID() string {
	return primitive.NewObjectID().Hex()
}

// WithSession adds a session id to the request context, bypassing the
// cookie middleware the way real requests acquire one.
func WithSession(r *http.Request, sid string) *http.Request {
	return identity.WithTestSession(r, sid)
}

// NewRequest creates an HTTP request for testing. body may be nil.
func NewRequest(method, target string, body io.Reader) *http.Request {
	return httptest.NewRequest(method, target, body)
}

// NewSessionRequest creates an HTTP request with a session id in context.
func NewSessionRequest(method, target string, body io.Reader, sid string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	return WithSession(req, sid)
}

// NewJSONRequest creates a request carrying a JSON body and a session id.
func NewJSONRequest(method, target, body, sid string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return WithSession(req, sid)
}

// ResponseRecorder wraps httptest.ResponseRecorder with helper methods.
type ResponseRecorder struct {
	*httptest.ResponseRecorder
}

// NewRecorder creates a new ResponseRecorder.
func NewRecorder() *ResponseRecorder {
	return &ResponseRecorder{httptest.NewRecorder()}
}

// AssertStatus checks the response status code.
func (r *ResponseRecorder) AssertStatus(t interface{ Errorf(string, ...any) }, expected int) {
	if r.Code != expected {
		t.Errorf("status code: got %d, want %d", r.Code, expected)
	}
}

// AssertContains checks if the response body contains the expected string.
func (r *ResponseRecorder) AssertContains(t interface{ Errorf(string, ...any) }, expected string) {
	body := r.Body.String()
	if !strings.Contains(body, expected) {
		t.Errorf("response body does not contain %q", expected)
	}
}
