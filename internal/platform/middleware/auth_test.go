package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	id "acsadmin/pkg/domain"
)

type MockTokenAuthenticator struct {
	mock.Mock
}

func (m *MockTokenAuthenticator) Authenticate(ctx context.Context, token string) (id.AccountID, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(id.AccountID), args.Error(1)
}

type countingFailures struct{ n int }

func (c *countingFailures) IncrementAuthFailures() { c.n++ }

// mockHandler captures whether it was called and with which context
type mockHandler struct {
	called  bool
	context context.Context
}

func (m *mockHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.called = true
	m.context = r.Context()
	w.WriteHeader(http.StatusOK)
}

type AuthMiddlewareTestSuite struct {
	suite.Suite
	authenticator *MockTokenAuthenticator
	failures      *countingFailures
	next          *mockHandler
	handler       http.Handler
}

func TestAuthMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(AuthMiddlewareTestSuite))
}

func (s *AuthMiddlewareTestSuite) SetupTest() {
	s.authenticator = new(MockTokenAuthenticator)
	s.failures = &countingFailures{}
	s.next = &mockHandler{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.handler = RequireAuth(s.authenticator, s.failures, logger)(s.next)
}

func (s *AuthMiddlewareTestSuite) TestValidToken() {
	accountID := id.AccountID(uuid.New())
	s.authenticator.On("Authenticate", mock.Anything, "good-token").Return(accountID, nil)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	s.Equal(http.StatusOK, rec.Code)
	s.True(s.next.called)
	s.Equal(accountID, GetAccountID(s.next.context))
	s.Equal("good-token", GetBearerToken(s.next.context))
	s.Zero(s.failures.n)
}

func (s *AuthMiddlewareTestSuite) TestMissingHeader() {
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	s.Equal(http.StatusUnauthorized, rec.Code)
	s.False(s.next.called)
	s.Contains(rec.Body.String(), "Missing or invalid Authorization header")
	s.Equal(1, s.failures.n)
	s.authenticator.AssertNotCalled(s.T(), "Authenticate", mock.Anything, mock.Anything)
}

func (s *AuthMiddlewareTestSuite) TestNonBearerScheme() {
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	s.Equal(http.StatusUnauthorized, rec.Code)
	s.False(s.next.called)
}

func (s *AuthMiddlewareTestSuite) TestRejectedToken() {
	s.authenticator.On("Authenticate", mock.Anything, "stale").Return(id.AccountID{}, errors.New("token signed out"))

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	s.Equal(http.StatusUnauthorized, rec.Code)
	s.False(s.next.called)
	s.Equal(1, s.failures.n)
}

func TestGetAccountID_Empty(t *testing.T) {
	assert.True(t, GetAccountID(context.Background()).IsNil())
	assert.Empty(t, GetBearerToken(context.Background()))
}

func TestClientMetadata(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"direct peer", "203.0.113.9:5555", "", "203.0.113.9"},
		{"untrusted proxy ignored", "203.0.113.9:5555", "198.51.100.1", "203.0.113.9"},
		{"trusted proxy forwarded", "10.1.2.3:5555", "198.51.100.1, 10.1.2.3", "198.51.100.1"},
		{"garbage forwarded", "10.1.2.3:5555", "not-an-ip", "10.1.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotIP, gotUA string
			h := ClientMetadata(trusted)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				gotIP = GetClientIP(r.Context())
				gotUA = GetUserAgent(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			req.Header.Set("User-Agent", "Firefox/121.0")
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, gotIP)
			assert.Equal(t, "Firefox/121.0", gotUA)
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "abc-123", seen)
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
