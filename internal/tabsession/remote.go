package tabsession

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	authModels "acsadmin/internal/auth/models"
	"acsadmin/internal/ledger/feed"
	ledgerHandler "acsadmin/internal/ledger/handler"
	"acsadmin/internal/ledger/models"
	id "acsadmin/pkg/domain"
	dErrors "acsadmin/pkg/domain-errors"
	"acsadmin/pkg/platform/httputil"
)

const defaultRemoteTimeout = 10 * time.Second

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type RemoteConfig struct {
	// BaseURL of the API, e.g. "http://localhost:8080".
	BaseURL    string
	Timeout    time.Duration
	HTTPClient HTTPDoer
	Dialer     *websocket.Dialer
	// UserAgent and ForwardedFor are sent with every request, as the
	// browser itself would.
	UserAgent    string
	ForwardedFor string
}

// Remote talks to the HTTP API and its websocket feed.
type Remote struct {
	baseURL      string
	client       HTTPDoer
	dialer       *websocket.Dialer
	userAgent    string
	forwardedFor string
}

func NewRemote(cfg RemoteConfig) *Remote {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultRemoteTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: cfg.Timeout}
	}
	return &Remote{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		client:       client,
		dialer:       dialer,
		userAgent:    cfg.UserAgent,
		forwardedFor: cfg.ForwardedFor,
	}
}

func (r *Remote) SignIn(ctx context.Context, identifier, password string) (*Credential, error) {
	var res authModels.SignInResult
	body := authModels.SignInRequest{Identifier: identifier, Password: password}
	if err := r.do(ctx, http.MethodPost, "/auth/token", nil, body, &res); err != nil {
		return nil, err
	}
	return credentialFrom(&res), nil
}

func (r *Remote) GlobalSignOut(ctx context.Context, cred *Credential) error {
	return r.do(ctx, http.MethodPost, "/auth/signout", cred, nil, nil)
}

func (r *Remote) Lookup(ctx context.Context, cred *Credential, token id.SessionToken) (*models.Row, error) {
	var res ledgerHandler.LookupResponse
	path := "/sessions/lookup?token=" + url.QueryEscape(token.String())
	if err := r.do(ctx, http.MethodGet, path, cred, nil, &res); err != nil {
		return nil, err
	}
	return res.Session, nil
}

func (r *Remote) Insert(ctx context.Context, cred *Credential, token id.SessionToken, client Client) error {
	body := models.InsertRequest{SessionToken: token.String(), DeviceInfo: client.DeviceInfo}
	return r.do(ctx, http.MethodPost, "/sessions", cred, body, nil)
}

func (r *Remote) Touch(ctx context.Context, cred *Credential, token id.SessionToken, deviceInfo string) error {
	body := models.TouchRequest{DeviceInfo: deviceInfo}
	return r.do(ctx, http.MethodPatch, "/sessions/"+url.PathEscape(token.String()), cred, body, nil)
}

func (r *Remote) Delete(ctx context.Context, cred *Credential, token id.SessionToken) error {
	return r.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(token.String()), cred, nil, nil)
}

func (r *Remote) DeleteAll(ctx context.Context, cred *Credential) error {
	return r.do(ctx, http.MethodDelete, "/sessions", cred, nil, nil)
}

// Watch opens the websocket feed for token. The server refuses the upgrade
// when the caller has no row for it.
func (r *Remote) Watch(ctx context.Context, cred *Credential, token id.SessionToken) (feed.Subscription, error) {
	wsURL := "ws" + strings.TrimPrefix(r.baseURL, "http") + "/sessions/watch?token=" + url.QueryEscape(token.String())
	conn, resp, err := r.dialer.DialContext(ctx, wsURL, r.headers(cred))
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "realtime feed unreachable")
	}
	return newWSSubscription(conn), nil
}

func (r *Remote) headers(cred *Credential) http.Header {
	h := http.Header{}
	if cred != nil {
		h.Set("Authorization", "Bearer "+cred.AccessToken)
	}
	if r.userAgent != "" {
		h.Set("User-Agent", r.userAgent)
	}
	if r.forwardedFor != "" {
		h.Set("X-Forwarded-For", r.forwardedFor)
	}
	return h
}

func (r *Remote) do(ctx context.Context, method, path string, cred *Credential, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create request")
	}
	req.Header = r.headers(cred)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "request timeout")
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "backend unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode response")
	}
	return nil
}

// decodeError rebuilds the domain error the server wrote.
func decodeError(resp *http.Response) error {
	var body httputil.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) //nolint:errcheck // best effort
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		code := dErrors.CodeInternal
		if resp.StatusCode >= http.StatusInternalServerError {
			code = dErrors.CodeUnavailable
		}
		return dErrors.New(code, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	msg := body.Description
	if msg == "" {
		msg = body.Error
	}
	return dErrors.New(dErrors.Code(body.Error), msg)
}

// wsSubscription adapts a watch socket to feed.Subscription.
type wsSubscription struct {
	conn   *websocket.Conn
	events chan models.Deletion
	once   sync.Once
	done   chan struct{}
}

func newWSSubscription(conn *websocket.Conn) *wsSubscription {
	s := &wsSubscription{
		conn:   conn,
		events: make(chan models.Deletion, 1),
		done:   make(chan struct{}),
	}
	go s.read()
	return s
}

func (s *wsSubscription) read() {
	defer close(s.done)
	defer close(s.events)
	for {
		var d models.Deletion
		if err := s.conn.ReadJSON(&d); err != nil {
			return
		}
		select {
		case s.events <- d:
		default:
		}
	}
}

func (s *wsSubscription) Events() <-chan models.Deletion { return s.events }

func (s *wsSubscription) Close() {
	s.once.Do(func() {
		_ = s.conn.Close()
		<-s.done
	})
}
