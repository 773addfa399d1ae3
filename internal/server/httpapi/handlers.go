// Package httpapi exposes the sync engine over an authenticated JSON HTTP API.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/crmsync/internal/errs"
	"github.com/and161185/crmsync/internal/model"
)

// Syncer runs inbound syncs and serves the cached calls and profiles behind them.
type Syncer interface {
	RunSync(ctx context.Context, connectionID uuid.UUID, mode model.SyncMode, lookbackDays int) (model.SyncResult, error)
	ListCachedCalls(ctx context.Context, connectionID uuid.UUID, prospectID string, limit int) ([]model.CachedCall, error)
	EnrollProfile(ctx context.Context, p *model.ProspectProfile) error
}

// Publisher publishes recordings and reports their per-prospect outcomes.
type Publisher interface {
	PublishRecording(ctx context.Context, recordingID, userID uuid.UUID, manual []model.ManualProspect) (model.PublishResult, error)
	ListMappings(ctx context.Context, recordingID, userID uuid.UUID) ([]model.ProspectMapping, error)
}

// Connector manages the OAuth link to the CRM.
type Connector interface {
	AuthCodeURL(state string) string
	Connect(ctx context.Context, scope model.ScopeType, scopeID uuid.UUID, code string) (*model.Connection, error)
	Disconnect(ctx context.Context, id uuid.UUID) error
}

// RunLister lists the audit trail of a connection.
type RunLister interface {
	List(ctx context.Context, connectionID uuid.UUID, limit int) ([]model.SyncRun, error)
}

// Authorizer decides what a caller may do with a scope or a connection.
type Authorizer interface {
	AuthorizeScope(p model.Principal, scope model.ScopeType, scopeID uuid.UUID) error
	AuthorizeConnection(ctx context.Context, p model.Principal, id uuid.UUID, want model.Access) error
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the HTTP API.
type Deps struct {
	Syncer     Syncer
	Publisher  Publisher
	Connector  Connector
	Runs       RunLister
	Access     Authorizer
	DB         Pinger
	Tokens     *Tokens
	Logger     *zap.Logger
	RunTimeout time.Duration
}

// Handler serves the API routes.
type Handler struct {
	sync       Syncer
	pub        Publisher
	conn       Connector
	runs       RunLister
	access     Authorizer
	db         Pinger
	log        *zap.Logger
	runTimeout time.Duration
}

// NewRouter builds the chi router with request id, logging, recovery and bearer auth on /v1.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	h := &Handler{
		sync: d.Syncer, pub: d.Publisher, conn: d.Connector, runs: d.Runs, access: d.Access, db: d.DB,
		log: d.Logger, runTimeout: d.RunTimeout,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(d.Logger))
	r.Use(Recover(d.Logger))

	r.Get("/healthz", h.health)
	r.Route("/v1", func(r chi.Router) {
		r.Use(d.Tokens.Middleware)

		r.Get("/connections/authorize", h.authorizeURL)
		r.Post("/connections", h.connect)
		r.Delete("/connections/{id}", h.disconnect)
		r.Post("/connections/{id}/sync", h.runSync)
		r.Get("/connections/{id}/runs", h.listRuns)
		r.Get("/connections/{id}/calls", h.listCalls)
		r.Post("/connections/{id}/profiles", h.enroll)

		r.Post("/recordings/{id}/publish", h.publish)
		r.Get("/recordings/{id}/mappings", h.listMappings)
	})
	return r
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: bad id %q", errs.ErrValidation, chi.URLParam(r, "id"))
	}
	return id, nil
}

// connection resolves the {id} connection and checks the caller may act on it as want.
func (h *Handler) connection(r *http.Request, want model.Access) (uuid.UUID, error) {
	id, err := pathID(r)
	if err != nil {
		return uuid.Nil, err
	}
	p, _ := PrincipalFromCtx(r.Context())
	if err := h.access.AuthorizeConnection(r.Context(), p, id, want); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func queryLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad limit %q", errs.ErrValidation, v)
	}
	return n, nil
}

// withRunTimeout bounds a sync run; cancellation aborts the run and finalizes it as error.
func (h *Handler) withRunTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.runTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.runTimeout)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.log.Warn("health: database unreachable", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) authorizeURL(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		h.fail(w, r, fmt.Errorf("%w: empty state", errs.ErrValidation), uuid.Nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": h.conn.AuthCodeURL(state)})
}

type connectRequest struct {
	ScopeType model.ScopeType `json:"scope_type"`
	ScopeID   uuid.UUID       `json:"scope_id"`
	Code      string          `json:"code"`
}

type connectionView struct {
	ID             uuid.UUID       `json:"id"`
	ScopeType      model.ScopeType `json:"scope_type"`
	ScopeID        uuid.UUID       `json:"scope_id"`
	TokenExpiresAt time.Time       `json:"token_expires_at"`
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err, uuid.Nil)
		return
	}
	p, _ := PrincipalFromCtx(r.Context())
	if req.ScopeID == uuid.Nil {
		switch req.ScopeType {
		case model.ScopeUser:
			req.ScopeID = p.UserID
		case model.ScopeOrg:
			req.ScopeID = p.OrgID
		}
	}
	if req.ScopeType.Valid() && req.ScopeID != uuid.Nil {
		if err := h.access.AuthorizeScope(p, req.ScopeType, req.ScopeID); err != nil {
			h.fail(w, r, err, uuid.Nil)
			return
		}
	}
	conn, err := h.conn.Connect(r.Context(), req.ScopeType, req.ScopeID, req.Code)
	if err != nil {
		h.fail(w, r, err, uuid.Nil)
		return
	}
	writeJSON(w, http.StatusCreated, connectionView{
		ID: conn.ID, ScopeType: conn.ScopeType, ScopeID: conn.ScopeID, TokenExpiresAt: conn.TokenExpiresAt,
	})
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	id, err := h.connection(r, model.AccessManage)
	if err != nil {
		h.fail(w, r, err, uuid.Nil)
		return
	}
	if err := h.conn.Disconnect(r.Context(), id); err != nil {
		h.fail(w, r, err, uuid.Nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type syncRequest struct {
	SyncType     string `json:"sync_type"`
	LookbackDays int    `json:"lookback_days"`
}

func (h *Handler) runSync(w http.ResponseWriter, r *http.Request) {
	id, err := h.connection(r, model.AccessUse)
	if err != nil {
		h.fail(w, r, err, uuid.Nil)
		return
	}
	req := syncRequest{SyncType: string(model.ModeIncremental)}
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err, uuid.Nil)
		return
	}
	mode, err := model.ParseSyncMode(req.SyncType)
	if err != nil {
		h.fail(w, r, err, uuid.Nil)
		return
	}
	if req.LookbackDays < 0 {
		h.fail(w, r, fmt.Errorf("%w: negative lookback_days", errs.ErrValidation), uuid.Nil)
		return
	}

	ctx, cancel := h.withRunTimeout(r.Context())
	defer cancel()
	res, err := h.sync.RunSync(ctx, id, mode, req.LookbackDays)
	if err != nil {
		h.fail(w, r, err, res.RunID)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	id, err := h.connection(r, model.AccessUse)
	if err != nil {
		h.fail(w, r, err, uuid.Nil)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		h.fail(w, r, err, uuid.Nil)
		return
	}
	runs, err := h.runs.List(r.Context(), id, limit)
	if err != nil {
		h.fail(w, r, err, uuid.Nil)
		return
	}
	if runs == nil {
		runs = []model.SyncRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) listCalls(w http.ResponseWriter, r *http.Request) {
	id, err := h.connection(r, model.AccessUse)
	if err != nil {
		h.fail(w, r, err, uuid.Nil)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		h.fail(w, r, err, uuid.Nil)
		return
	}
	calls, err := h.sync.ListCachedCalls(r.Context(), id, r.URL.Query().Get("prospect_id"), limit)
	if err != nil {
		h.fail(w, r, err, uuid.Nil)
		return
	}
	if calls == nil {
		calls = []model.CachedCall{}
	}
	writeJSON(w, http.StatusOK, calls)
}

type enrollRequest struct {
	UserID           uuid.UUID `json:"user_id"`
	RemoteProspectID string    `json:"remote_prospect_id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	Company          string    `json:"company"`
}

func (h *Handler) enroll(w http.ResponseWriter, r *http.Request) {
	id, err := h.connection(r, model.AccessManage)
	if err != nil {
		h.fail(w, r, err, uuid.Nil)
		return
	}
	var req enrollRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err, uuid.Nil)
		return
	}
	if req.UserID == uuid.Nil {
		req.UserID, _ = UserIDFromCtx(r.Context())
	}
	p := &model.ProspectProfile{
		ConnectionID:     id,
		UserID:           req.UserID,
		RemoteProspectID: req.RemoteProspectID,
		Email:            req.Email,
		Name:             req.Name,
		Company:          req.Company,
		Active:           true,
	}
	if err := h.sync.EnrollProfile(r.Context(), p); err != nil {
		h.fail(w, r, err, uuid.Nil)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type publishRequest struct {
	ManualProspectMapping []model.ManualProspect `json:"manual_prospect_mapping"`
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err, uuid.Nil)
		return
	}
	var req publishRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err, uuid.Nil)
		return
	}
	userID, _ := UserIDFromCtx(r.Context())

	ctx, cancel := h.withRunTimeout(r.Context())
	defer cancel()
	res, err := h.pub.PublishRecording(ctx, id, userID, req.ManualProspectMapping)
	if err != nil {
		h.fail(w, r, err, res.RunID)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) listMappings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err, uuid.Nil)
		return
	}
	userID, _ := UserIDFromCtx(r.Context())
	ms, err := h.pub.ListMappings(r.Context(), id, userID)
	if err != nil {
		h.fail(w, r, err, uuid.Nil)
		return
	}
	if ms == nil {
		ms = []model.ProspectMapping{}
	}
	writeJSON(w, http.StatusOK, ms)
}
