package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"acsadmin/internal/auth/mailer"
	"acsadmin/internal/auth/models"
	"acsadmin/internal/auth/service"
	"acsadmin/internal/auth/store/account"
	jwttoken "acsadmin/internal/jwt_token"
	"acsadmin/internal/platform/middleware"
	"acsadmin/pkg/platform/httputil"
)

type HandlerSuite struct {
	suite.Suite
	svc    *service.Service
	outbox *mailer.Outbox
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.outbox = mailer.NewOutbox()
	svc, err := service.New(account.NewInMemory(),
		jwttoken.NewJWTService("test-key", "acs-admin", "acs-admin-panel", time.Hour),
		service.WithBcryptCost(bcrypt.MinCost),
		service.WithLogger(logger),
		service.WithMailer(s.outbox),
	)
	s.Require().NoError(err)
	s.svc = svc

	h := New(svc, logger)
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	h.Register(r)
	r.Group(func(pr chi.Router) {
		pr.Use(middleware.RequireAuth(svc, nil, logger))
		h.RegisterProtected(pr)
	})
	s.router = r
}

func (s *HandlerSuite) do(method, path, bearer string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) TestSignupActivateSignIn() {
	rec := s.do(http.MethodPost, "/auth/signup", "", map[string]string{
		"full_name": "Ana Souza", "email": "Ana@Example.com", "password": "pw-123456",
	})
	s.Require().Equal(http.StatusCreated, rec.Code)
	var created models.AccountView
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &created))
	s.Equal(models.AccountStatusPending, created.Status)

	rec = s.do(http.MethodPost, "/auth/token", "", map[string]string{"identifier": "ana@example.com", "password": "pw-123456"})
	s.Equal(http.StatusForbidden, rec.Code)

	token, ok := s.outbox.Token("ana@example.com")
	s.Require().True(ok)
	rec = s.do(http.MethodPost, "/auth/accounts/"+created.ID.String()+"/activate", "", models.ActivateRequest{Token: token})
	s.Require().Equal(http.StatusOK, rec.Code)
	var activated models.AccountView
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &activated))
	s.Equal("ACS-01", activated.Code.String())

	rec = s.do(http.MethodPost, "/auth/token", "", map[string]string{"identifier": "ACS-01", "password": "pw-123456"})
	s.Require().Equal(http.StatusOK, rec.Code)
	var res models.SignInResult
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &res))
	s.NotEmpty(res.AccessToken)

	rec = s.do(http.MethodGet, "/auth/me", res.AccessToken, nil)
	s.Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/auth/signout", res.AccessToken, nil)
	s.Equal(http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/auth/me", res.AccessToken, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestSignInErrors() {
	_, err := s.svc.Signup(context.Background(), &models.SignupRequest{FullName: "Ana", Email: "ana@example.com", Password: "pw-123456"})
	s.Require().NoError(err)

	rec := s.do(http.MethodPost, "/auth/token", "", map[string]string{"identifier": "not-an-identifier", "password": "x"})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/auth/token", "", map[string]string{"identifier": "ACS-99", "password": "x"})
	s.Equal(http.StatusUnauthorized, rec.Code)
	var body httputil.ErrorResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("invalid credentials", body.Description)
}

func (s *HandlerSuite) TestDuplicateSignup() {
	body := map[string]string{"full_name": "Ana", "email": "ana@example.com", "password": "pw-123456"}
	s.Equal(http.StatusCreated, s.do(http.MethodPost, "/auth/signup", "", body).Code)
	s.Equal(http.StatusConflict, s.do(http.MethodPost, "/auth/signup", "", body).Code)
}

func (s *HandlerSuite) TestActivateBadID() {
	rec := s.do(http.MethodPost, "/auth/accounts/nope/activate", "", models.ActivateRequest{Token: "x"})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestActivateNeedsMailedToken() {
	rec := s.do(http.MethodPost, "/auth/signup", "", map[string]string{
		"full_name": "Ana Souza", "email": "ana@example.com", "password": "pw-123456",
	})
	s.Require().Equal(http.StatusCreated, rec.Code)
	var created models.AccountView
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &created))
	path := "/auth/accounts/" + created.ID.String() + "/activate"

	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, path, "", nil).Code, "ID alone")
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, path, "", models.ActivateRequest{}).Code, "empty token")
	s.Equal(http.StatusUnauthorized, s.do(http.MethodPost, path, "", models.ActivateRequest{Token: "guessed"}).Code)

	rec = s.do(http.MethodPost, "/auth/token", "", map[string]string{"identifier": "ana@example.com", "password": "pw-123456"})
	s.Equal(http.StatusForbidden, rec.Code, "still pending")

	token, ok := s.outbox.Token("ana@example.com")
	s.Require().True(ok)
	s.Equal(http.StatusOK, s.do(http.MethodPost, path, "", models.ActivateRequest{Token: token}).Code)
	s.Equal(http.StatusUnauthorized, s.do(http.MethodPost, path, "", models.ActivateRequest{Token: token}).Code, "single use")
}

func (s *HandlerSuite) TestResendVerification() {
	rec := s.do(http.MethodPost, "/auth/signup", "", map[string]string{
		"full_name": "Ana Souza", "email": "ana@example.com", "password": "pw-123456",
	})
	s.Require().Equal(http.StatusCreated, rec.Code)
	var created models.AccountView
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &created))
	first, _ := s.outbox.Token("ana@example.com")

	s.Equal(http.StatusAccepted, s.do(http.MethodPost, "/auth/verification", "", map[string]string{"email": "ANA@example.com"}).Code)
	s.Equal(http.StatusAccepted, s.do(http.MethodPost, "/auth/verification", "", map[string]string{"email": "ghost@example.com"}).Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/auth/verification", "", map[string]string{"email": "nope"}).Code)
	s.Len(s.outbox.Sent(), 2)

	second, _ := s.outbox.Token("ana@example.com")
	s.NotEqual(first, second)
	path := "/auth/accounts/" + created.ID.String() + "/activate"
	s.Equal(http.StatusUnauthorized, s.do(http.MethodPost, path, "", models.ActivateRequest{Token: first}).Code)
	s.Equal(http.StatusOK, s.do(http.MethodPost, path, "", models.ActivateRequest{Token: second}).Code)
}
