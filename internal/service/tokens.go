package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/crmsync/internal/errs"
	"github.com/and161185/crmsync/internal/lock"
	"github.com/and161185/crmsync/internal/model"
	"github.com/and161185/crmsync/internal/repository"
)

const (
	// defaultTokenTTL applies when the token endpoint reports no lifetime at all.
	defaultTokenTTL = 2 * time.Hour
	// refreshTimeout bounds one shared refresh, lock wait included.
	refreshTimeout = time.Minute
)

// TokenEnsurer hands out a usable access token for a connection.
type TokenEnsurer interface {
	EnsureValidToken(ctx context.Context, conn *model.Connection) (string, error)
}

// OAuthConfig describes the CRM's OAuth application.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
}

// TokenManager owns the OAuth token lifecycle of CRM connections.
type TokenManager struct {
	conns  repository.ConnectionRepository
	oauth  *oauth2.Config
	http   *http.Client
	locker lock.Locker
	skew   time.Duration
	sf     singleflight.Group
	log    *zap.Logger
	now    func() time.Time
}

// NewTokenManager constructs a TokenManager. A nil locker serializes refreshes in-process only.
func NewTokenManager(
	conns repository.ConnectionRepository, cfg OAuthConfig, httpClient *http.Client,
	locker lock.Locker, skew time.Duration, log *zap.Logger,
) *TokenManager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if locker == nil {
		locker = lock.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenManager{
		conns: conns,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		http:   httpClient,
		locker: locker,
		skew:   skew,
		log:    log,
		now:    time.Now,
	}
}

func (m *TokenManager) oauthCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.http)
}

// EnsureValidToken returns the stored access token while it is valid. Otherwise it
// refreshes once per connection, persists the new tokens and updates conn in place.
func (m *TokenManager) EnsureValidToken(ctx context.Context, conn *model.Connection) (string, error) {
	if conn == nil {
		return "", errs.ErrNoConnection
	}
	if conn.TokenValid(m.now(), m.skew) {
		return conn.AccessToken, nil
	}
	// The refresh is shared by every waiter, so it must not die with the caller that started it.
	ch := m.sf.DoChan(conn.ID.String(), func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.refresh(rctx, conn.ID)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		fresh := res.Val.(model.Connection)
		*conn = fresh
		return fresh.AccessToken, nil
	}
}

func (m *TokenManager) refresh(ctx context.Context, id uuid.UUID) (model.Connection, error) {
	release, err := m.locker.Acquire(ctx, "refresh:"+id.String())
	if err != nil {
		return model.Connection{}, fmt.Errorf("lock token refresh: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			m.log.Warn("release refresh lock", zap.Stringer("connection_id", id), zap.Error(err))
		}
	}()

	// Another holder may have refreshed while we waited.
	conn, err := m.conns.GetByID(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return model.Connection{}, errs.ErrNoConnection
	}
	if err != nil {
		return model.Connection{}, err
	}
	if conn.TokenValid(m.now(), m.skew) {
		return *conn, nil
	}
	if conn.RefreshToken == "" {
		return model.Connection{}, fmt.Errorf("%w: no refresh token stored", errs.ErrTokenRefreshFailed)
	}

	src := m.oauth.TokenSource(m.oauthCtx(ctx), &oauth2.Token{RefreshToken: conn.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		m.log.Warn("token refresh rejected", zap.Stringer("connection_id", id), zap.Error(err))
		return model.Connection{}, refreshError(err)
	}

	conn.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		conn.RefreshToken = tok.RefreshToken
	}
	conn.TokenExpiresAt = m.expiry(tok)
	if err := m.conns.UpdateTokens(ctx, conn); err != nil {
		return model.Connection{}, fmt.Errorf("persist refreshed tokens: %w", err)
	}
	m.log.Info("token refreshed",
		zap.Stringer("connection_id", id),
		zap.Time("expires_at", conn.TokenExpiresAt))
	return *conn, nil
}

func refreshError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		detail := re.ErrorCode
		if re.ErrorDescription != "" {
			detail += ": " + re.ErrorDescription
		}
		if detail == "" && re.Response != nil {
			detail = re.Response.Status
		}
		return fmt.Errorf("%w: %s", errs.ErrTokenRefreshFailed, detail)
	}
	return fmt.Errorf("%w: %v", errs.ErrTokenRefreshFailed, err)
}

// expiry computes created_at + expires_in when the endpoint reports its issue time,
// otherwise now + expires_in.
func (m *TokenManager) expiry(tok *oauth2.Token) time.Time {
	expiresIn, hasTTL := numberExtra(tok, "expires_in")
	createdAt, hasCreated := numberExtra(tok, "created_at")
	switch {
	case hasTTL && hasCreated:
		return time.Unix(createdAt+expiresIn, 0).UTC()
	case hasTTL:
		return m.now().Add(time.Duration(expiresIn) * time.Second).UTC()
	case !tok.Expiry.IsZero():
		return tok.Expiry.UTC()
	default:
		return m.now().Add(defaultTokenTTL).UTC()
	}
}

func numberExtra(tok *oauth2.Token, key string) (int64, bool) {
	switch v := tok.Extra(key).(type) {
	case float64:
		return int64(v), v > 0
	case int64:
		return v, v > 0
	case int:
		return int64(v), v > 0
	case json.Number:
		n, err := v.Int64()
		return n, err == nil && n > 0
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil && n > 0
	default:
		return 0, false
	}
}

// AuthCodeURL returns the CRM consent page URL for state.
func (m *TokenManager) AuthCodeURL(state string) string {
	return m.oauth.AuthCodeURL(state)
}

// Connect completes the authorization-code flow and stores the connection for scope.
// Reconnecting a scope replaces the tokens of its existing connection.
func (m *TokenManager) Connect(ctx context.Context, scope model.ScopeType, scopeID uuid.UUID, code string) (*model.Connection, error) {
	if !scope.Valid() || scopeID == uuid.Nil || code == "" {
		return nil, fmt.Errorf("%w: scope_type/scope_id/code", errs.ErrValidation)
	}
	tok, err := m.oauth.Exchange(m.oauthCtx(ctx), code)
	if err != nil {
		m.log.Warn("authorization code exchange failed", zap.String("scope_type", string(scope)), zap.Error(err))
		return nil, fmt.Errorf("%w: authorization code rejected", errs.ErrUnauthorized)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	conn := &model.Connection{
		ID:             id,
		ScopeType:      scope,
		ScopeID:        scopeID,
		AccessToken:    tok.AccessToken,
		RefreshToken:   tok.RefreshToken,
		TokenExpiresAt: m.expiry(tok),
	}
	if err := m.conns.Upsert(ctx, conn); err != nil {
		return nil, err
	}
	m.log.Info("crm connected",
		zap.Stringer("connection_id", conn.ID),
		zap.String("scope_type", string(scope)),
		zap.Stringer("scope_id", scopeID))
	return conn, nil
}

// Disconnect deletes a connection with its cached calls and profiles. Sync runs are kept.
func (m *TokenManager) Disconnect(ctx context.Context, id uuid.UUID) error {
	if err := m.conns.Delete(ctx, id); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrNoConnection
		}
		return err
	}
	m.log.Info("crm disconnected", zap.Stringer("connection_id", id))
	return nil
}
