package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acsadmin/internal/platform/middleware"
	id "acsadmin/pkg/domain"
)

type staticAuthenticator struct {
	token     string
	accountID id.AccountID
}

func (a staticAuthenticator) Authenticate(_ context.Context, token string) (id.AccountID, error) {
	if token == a.token {
		return a.accountID, nil
	}
	return id.AccountID{}, errors.New("unknown token")
}

type recordingMetrics struct {
	endpoints []string
	failures  int
}

func (m *recordingMetrics) ObserveEndpointLatency(endpoint string, _ float64) {
	m.endpoints = append(m.endpoints, endpoint)
}

func (m *recordingMetrics) IncrementAuthFailures() { m.failures++ }

func newTestRouter(t *testing.T, m Metrics, origins []string, trusted []netip.Prefix) (http.Handler, id.AccountID) {
	t.Helper()
	accountID := id.NewAccountID()
	public := ModuleFunc(func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, middleware.GetClientIP(r.Context()))
		})
		r.Post("/echo", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	})
	protected := ModuleFunc(func(r chi.Router) {
		r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, middleware.GetAccountID(r.Context()).String())
		})
	})
	h := NewRouter(Deps{
		Authenticator:  staticAuthenticator{token: "good", accountID: accountID},
		Metrics:        m,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "metrics") }),
		Public:         []Module{public},
		Protected:      []Module{protected},
		CORSOrigins:    origins,
		TrustedProxies: trusted,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h, accountID
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_PublicRoutesNeedNoBearer(t *testing.T) {
	m := &recordingMetrics{}
	h, _ := newTestRouter(t, m, nil, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, []string{"GET /ping"}, m.endpoints)
}

func TestRouter_ProtectedRoutes(t *testing.T) {
	m := &recordingMetrics{}
	h, accountID := newTestRouter(t, m, nil, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rec = serve(h, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 2, m.failures)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec = serve(h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, accountID.String(), rec.Body.String())
}

func TestRouter_WorksWithoutMetrics(t *testing.T) {
	h, _ := newTestRouter(t, nil, nil, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/whoami", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_ServesMetrics(t *testing.T) {
	h, _ := newTestRouter(t, &recordingMetrics{}, nil, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "metrics", rec.Body.String())
}

func TestRouter_RejectsNonJSONBodies(t *testing.T) {
	h, _ := newTestRouter(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")
	rec := serve(h, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestRouter_CORS(t *testing.T) {
	h, _ := newTestRouter(t, nil, []string{"https://admin.example.com"}, nil)

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/whoami", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		req.Header.Set("Access-Control-Request-Headers", "Authorization")
		return serve(h, req)
	}

	allowed := preflight("https://admin.example.com")
	assert.Equal(t, "https://admin.example.com", allowed.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", allowed.Header().Get("Access-Control-Allow-Credentials"))

	denied := preflight("https://evil.example.com")
	assert.Empty(t, denied.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_ForwardedForOnlyFromTrustedProxies(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	h, _ := newTestRouter(t, nil, nil, trusted)

	fromProxy := httptest.NewRequest(http.MethodGet, "/ping", nil)
	fromProxy.RemoteAddr = "10.1.2.3:5555"
	fromProxy.Header.Set("X-Forwarded-For", "203.0.113.7, 10.1.2.3")
	assert.Equal(t, "203.0.113.7", serve(h, fromProxy).Body.String())

	direct := httptest.NewRequest(http.MethodGet, "/ping", nil)
	direct.RemoteAddr = "198.51.100.4:5555"
	direct.Header.Set("X-Forwarded-For", "203.0.113.7")
	assert.Equal(t, "198.51.100.4", serve(h, direct).Body.String())
}
