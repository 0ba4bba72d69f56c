package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"acsadmin/internal/ledger/feed"
	"acsadmin/internal/ledger/models"
	"acsadmin/internal/platform/middleware"
	id "acsadmin/pkg/domain"
	dErrors "acsadmin/pkg/domain-errors"
	"acsadmin/pkg/platform/httputil"
)

const (
	pingInterval = 25 * time.Second
	writeTimeout = 5 * time.Second
)

// Service defines the ledger operations exposed over HTTP.
type Service interface {
	Lookup(ctx context.Context, accountID id.AccountID, token id.SessionToken) (*models.Row, error)
	Insert(ctx context.Context, accountID id.AccountID, req *models.InsertRequest, ipAddress string) (*models.Row, error)
	Touch(ctx context.Context, accountID id.AccountID, token id.SessionToken, req *models.TouchRequest) (*models.Row, error)
	Delete(ctx context.Context, accountID id.AccountID, token id.SessionToken) (models.DeleteResult, error)
	DeleteByID(ctx context.Context, accountID id.AccountID, rowID id.RowID) (models.DeleteResult, error)
	DeleteAll(ctx context.Context, accountID id.AccountID) (models.DeleteResult, error)
	List(ctx context.Context, accountID id.AccountID) ([]*models.Row, error)
}

// LookupResponse wraps a maybe-row so "no session" is a 200, not a 404.
type LookupResponse struct {
	Session *models.Row `json:"session"`
}

type ListResponse struct {
	Sessions []*models.Row `json:"sessions"`
}

// Handler serves the active sessions ledger to authenticated admins. Every
// route is scoped to the caller's own account.
type Handler struct {
	ledger     Service
	subscriber feed.Subscriber
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

func New(ledger Service, subscriber feed.Subscriber, logger *slog.Logger) *Handler {
	return &Handler{
		ledger:     ledger,
		subscriber: subscriber,
		upgrader:   websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		logger:     logger,
	}
}

// Register mounts routes that expect RequireAuth upstream.
func (h *Handler) Register(r chi.Router) {
	r.Get("/sessions", h.HandleList)
	r.Get("/sessions/lookup", h.HandleLookup)
	r.Get("/sessions/watch", h.HandleWatch)
	r.Post("/sessions", h.HandleInsert)
	r.Patch("/sessions/{token}", h.HandleTouch)
	r.Delete("/sessions/id/{id}", h.HandleDeleteByID)
	r.Delete("/sessions/{token}", h.HandleDelete)
	r.Delete("/sessions", h.HandleDeleteAll)
}

// HandleList implements GET /sessions: the caller's devices, most recent first.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, err := middleware.RequireAccountID(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rows, err := h.ledger.List(ctx, accountID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse{Sessions: rows})
}

// HandleLookup implements GET /sessions/lookup?token=...
//
// Output: { "session": {...} } or { "session": null } when the tab has no row.
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, err := middleware.RequireAccountID(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	token, err := id.ParseSessionToken(r.URL.Query().Get("token"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	row, err := h.ledger.Lookup(ctx, accountID, token)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, LookupResponse{Session: row})
}

// HandleInsert implements POST /sessions.
//
// Input: { "session_token": "...", "device_info": "Chrome 120 on macOS" }
// Output: 201 with the row; 409 when the tab already has one.
func (h *Handler) HandleInsert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	accountID, err := middleware.RequireAccountID(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.InsertRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	row, err := h.ledger.Insert(ctx, accountID, req, middleware.GetClientIP(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "session insert failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, row)
}

// HandleTouch implements PATCH /sessions/{token}.
//
// Input: { "device_info": "..." } (optional)
func (h *Handler) HandleTouch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	accountID, err := middleware.RequireAccountID(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	token, err := id.ParseSessionToken(chi.URLParam(r, "token"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req := &models.TouchRequest{}
	if r.ContentLength != 0 {
		var ok bool
		if req, ok = httputil.DecodeAndPrepare[models.TouchRequest](w, r, h.logger, ctx, requestID); !ok {
			return
		}
	}
	row, err := h.ledger.Touch(ctx, accountID, token, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, row)
}

// HandleDelete implements DELETE /sessions/{token}. A missing row reports
// zero deletions rather than an error.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, err := middleware.RequireAccountID(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	token, err := id.ParseSessionToken(chi.URLParam(r, "token"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.ledger.Delete(ctx, accountID, token)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleDeleteByID implements DELETE /sessions/id/{id}: "sign out this device".
func (h *Handler) HandleDeleteByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, err := middleware.RequireAccountID(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rowID, err := id.ParseRowID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.ledger.DeleteByID(ctx, accountID, rowID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleDeleteAll implements DELETE /sessions.
func (h *Handler) HandleDeleteAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, err := middleware.RequireAccountID(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.ledger.DeleteAll(ctx, accountID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleWatch implements GET /sessions/watch?token=... as a websocket. The
// caller must own a live row for the token. Each deletion of that row is
// written as one JSON text frame; the server then closes the socket.
func (h *Handler) HandleWatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	accountID, err := middleware.RequireAccountID(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	token, err := id.ParseSessionToken(r.URL.Query().Get("token"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	// Subscribe before checking the row so a deletion racing the check or
	// the handshake is queued.
	sub, err := h.subscriber.Subscribe(ctx, token)
	if err != nil {
		h.logger.ErrorContext(ctx, "watch subscribe failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "realtime feed unavailable"))
		return
	}
	defer sub.Close()

	row, err := h.ledger.Lookup(ctx, accountID, token)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if row == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "session not found"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.WarnContext(ctx, "websocket upgrade failed", "error", err, "request_id", requestID)
		return
	}
	defer conn.Close()

	h.stream(ctx, conn, sub)
}

func (h *Handler) stream(ctx context.Context, conn *websocket.Conn, sub feed.Subscription) {
	// The read loop only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case d, ok := <-sub.Events():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(d); err != nil {
				h.logger.WarnContext(ctx, "watch write failed", "error", err)
				return
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
				time.Now().Add(writeTimeout))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-gone:
			return
		case <-ctx.Done():
			return
		}
	}
}
