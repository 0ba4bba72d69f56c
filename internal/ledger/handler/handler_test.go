package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	"acsadmin/internal/ledger/feed"
	"acsadmin/internal/ledger/models"
	"acsadmin/internal/ledger/service"
	"acsadmin/internal/ledger/store"
	"acsadmin/internal/platform/middleware"
	id "acsadmin/pkg/domain"
)

// bearerTable authenticates "Bearer <name>" against a fixed set of accounts.
type bearerTable map[string]id.AccountID

func (b bearerTable) Authenticate(_ context.Context, token string) (id.AccountID, error) {
	if accountID, ok := b[token]; ok {
		return accountID, nil
	}
	return id.AccountID{}, errors.New("unknown bearer")
}

type HandlerSuite struct {
	suite.Suite
	svc    *service.Service
	server *httptest.Server
	ana    id.AccountID
	bruno  id.AccountID
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := feed.NewBus(logger)
	svc, err := service.New(store.NewInMemory(), bus, service.WithLogger(logger))
	s.Require().NoError(err)
	s.svc = svc
	s.ana = id.NewAccountID()
	s.bruno = id.NewAccountID()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientMetadata(nil))
	r.Group(func(pr chi.Router) {
		pr.Use(middleware.RequireAuth(bearerTable{"ana": s.ana, "bruno": s.bruno}, nil, logger))
		New(svc, bus, logger).Register(pr)
	})
	s.server = httptest.NewServer(r)
	s.T().Cleanup(s.server.Close)
}

func (s *HandlerSuite) do(method, path, bearer string, body any) (int, []byte) {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp.StatusCode, data
}

func (s *HandlerSuite) register(bearer, token string) models.Row {
	code, body := s.do(http.MethodPost, "/sessions", bearer, map[string]string{
		"session_token": token, "device_info": "Firefox on Linux",
	})
	s.Require().Equal(http.StatusCreated, code, string(body))
	var row models.Row
	s.Require().NoError(json.Unmarshal(body, &row))
	return row
}

func (s *HandlerSuite) TestRequiresBearer() {
	code, _ := s.do(http.MethodGet, "/sessions", "", nil)
	s.Equal(http.StatusUnauthorized, code)
}

func (s *HandlerSuite) TestInsertLookupTouchDelete() {
	row := s.register("ana", "tab-a")
	s.Equal(s.ana, row.AccountID)
	s.Equal("Firefox on Linux", row.DeviceInfo)

	code, _ := s.do(http.MethodPost, "/sessions", "ana", map[string]string{"session_token": "tab-a"})
	s.Equal(http.StatusConflict, code)

	code, body := s.do(http.MethodGet, "/sessions/lookup?token=tab-a", "ana", nil)
	s.Require().Equal(http.StatusOK, code)
	var found LookupResponse
	s.Require().NoError(json.Unmarshal(body, &found))
	s.Require().NotNil(found.Session)
	s.Equal(row.ID, found.Session.ID)

	code, _ = s.do(http.MethodPatch, "/sessions/tab-a", "ana", map[string]string{"device_info": "Edge on Windows"})
	s.Equal(http.StatusOK, code)

	code, body = s.do(http.MethodDelete, "/sessions/tab-a", "ana", nil)
	s.Require().Equal(http.StatusOK, code)
	s.JSONEq(`{"deleted":1}`, string(body))

	code, body = s.do(http.MethodGet, "/sessions/lookup?token=tab-a", "ana", nil)
	s.Require().Equal(http.StatusOK, code)
	s.JSONEq(`{"session":null}`, string(body))

	code, _ = s.do(http.MethodPatch, "/sessions/tab-a", "ana", nil)
	s.Equal(http.StatusNotFound, code)
}

func (s *HandlerSuite) TestLookupIsScopedToCaller() {
	s.register("ana", "tab-a")
	code, body := s.do(http.MethodGet, "/sessions/lookup?token=tab-a", "bruno", nil)
	s.Require().Equal(http.StatusOK, code)
	s.JSONEq(`{"session":null}`, string(body))
}

func (s *HandlerSuite) TestDeleteByIDAndDeleteAll() {
	phone := s.register("ana", "phone")
	s.register("ana", "laptop")
	s.register("ana", "tablet")
	s.register("bruno", "other")

	code, _ := s.do(http.MethodDelete, "/sessions/id/"+phone.ID.String(), "bruno", nil)
	s.Equal(http.StatusNotFound, code)
	code, _ = s.do(http.MethodDelete, "/sessions/id/"+phone.ID.String(), "ana", nil)
	s.Equal(http.StatusOK, code)

	code, body := s.do(http.MethodDelete, "/sessions", "ana", nil)
	s.Require().Equal(http.StatusOK, code)
	s.JSONEq(`{"deleted":2}`, string(body))

	code, body = s.do(http.MethodGet, "/sessions", "bruno", nil)
	s.Require().Equal(http.StatusOK, code)
	var list ListResponse
	s.Require().NoError(json.Unmarshal(body, &list))
	s.Len(list.Sessions, 1)
}

func (s *HandlerSuite) TestBadRowIDIsRejected() {
	code, _ := s.do(http.MethodDelete, "/sessions/id/not-a-uuid", "ana", nil)
	s.Equal(http.StatusBadRequest, code)
}

func (s *HandlerSuite) dialWatch(bearer, token string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/sessions/watch?token=" + token
	header := http.Header{"Authorization": {"Bearer " + bearer}}
	return websocket.DefaultDialer.Dial(url, header)
}

func (s *HandlerSuite) TestWatchStreamsOwnDeletion() {
	row := s.register("ana", "tab-a")
	s.register("ana", "tab-b")

	conn, _, err := s.dialWatch("ana", "tab-a")
	s.Require().NoError(err)
	defer conn.Close()

	// A sibling deletion must not reach this socket.
	code, _ := s.do(http.MethodDelete, "/sessions/tab-b", "ana", nil)
	s.Require().Equal(http.StatusOK, code)
	code, _ = s.do(http.MethodDelete, "/sessions/id/"+row.ID.String(), "ana", nil)
	s.Require().Equal(http.StatusOK, code)

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	var got models.Deletion
	s.Require().NoError(conn.ReadJSON(&got))
	s.Equal(row.ID, got.RowID)
	s.Equal(id.SessionToken("tab-a"), got.SessionToken)

	_, _, err = conn.ReadMessage()
	s.True(websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func (s *HandlerSuite) TestWatchRequiresOwnedRow() {
	s.register("ana", "tab-a")
	_, resp, err := s.dialWatch("bruno", "tab-a")
	s.Require().Error(err)
	s.Require().NotNil(resp)
	s.Equal(http.StatusNotFound, resp.StatusCode)
}
