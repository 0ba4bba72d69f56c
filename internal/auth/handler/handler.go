package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"acsadmin/internal/auth/models"
	"acsadmin/internal/platform/middleware"
	id "acsadmin/pkg/domain"
	"acsadmin/pkg/platform/httputil"
)

// Service defines the account operations exposed over HTTP.
type Service interface {
	Signup(ctx context.Context, req *models.SignupRequest) (*models.Account, error)
	Activate(ctx context.Context, accountID id.AccountID, token string) (*models.Account, error)
	ResendVerification(ctx context.Context, email string) error
	SignIn(ctx context.Context, identifier, password string) (*models.SignInResult, error)
	GlobalSignOut(ctx context.Context, accountID id.AccountID) error
	Account(ctx context.Context, accountID id.AccountID) (*models.Account, error)
}

// Handler serves signup, activation, sign-in and global sign-out.
type Handler struct {
	auth   Service
	logger *slog.Logger
}

func New(auth Service, logger *slog.Logger) *Handler {
	return &Handler{auth: auth, logger: logger}
}

// Register mounts the unauthenticated routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/auth/signup", h.HandleSignup)
	r.Post("/auth/accounts/{id}/activate", h.HandleActivate)
	r.Post("/auth/verification", h.HandleResendVerification)
	r.Post("/auth/token", h.HandleToken)
}

// RegisterProtected mounts routes that expect RequireAuth upstream.
func (h *Handler) RegisterProtected(r chi.Router) {
	r.Post("/auth/signout", h.HandleGlobalSignOut)
	r.Get("/auth/me", h.HandleMe)
}

// HandleSignup implements POST /auth/signup.
//
// Input: { "full_name": "...", "email": "...", "phone": "...", "password": "..." }
// Output: 201 with the pending account view.
func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.SignupRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	account, err := h.auth.Signup(ctx, req)
	if err != nil {
		h.logger.WarnContext(ctx, "signup failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, account.View())
}

// HandleActivate implements POST /auth/accounts/{id}/activate, the target of
// the email verification link. It assigns the ACS-NN code.
//
// Input: { "token": "<token from the verification email>" }
func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	accountID, err := id.ParseAccountID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.ActivateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	account, err := h.auth.Activate(ctx, accountID, req.Token)
	if err != nil {
		h.logger.WarnContext(ctx, "activation failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "account activated",
		"account_id", account.ID.String(),
		"code", account.Code.String(),
		"request_id", requestID,
	)
	httputil.WriteJSON(w, http.StatusOK, account.View())
}

// HandleResendVerification implements POST /auth/verification. It answers 202
// whether or not the address belongs to a pending account.
//
// Input: { "email": "ana@example.com" }
func (h *Handler) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.ResendVerificationRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := h.auth.ResendVerification(ctx, req.Email); err != nil {
		h.logger.ErrorContext(ctx, "resend verification failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleToken implements POST /auth/token.
//
// Input: { "identifier": "ACS-07" | "ana@example.com", "password": "..." }
// Output: { "access_token": "...", "token_type": "Bearer", "expires_at": "...", "account": {...} }
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.SignInRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.auth.SignIn(ctx, req.Identifier, req.Password)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleGlobalSignOut implements POST /auth/signout. Every bearer issued to
// the caller's account stops working.
func (h *Handler) HandleGlobalSignOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, err := middleware.RequireAccountID(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.auth.GlobalSignOut(ctx, accountID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe implements GET /auth/me.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, err := middleware.RequireAccountID(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	account, err := h.auth.Account(ctx, accountID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, account.View())
}
