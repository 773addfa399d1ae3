package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/crmsync/internal/errs"
	"github.com/and161185/crmsync/internal/model"
)

const tokenLeeway = 30 * time.Second

// claims carry the user id as subject and, for org members, the org id.
type claims struct {
	Org string `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 bearer tokens whose subject is a user id.
type Tokens struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokens constructs Tokens signing with key; issued tokens live for ttl.
func NewTokens(key []byte, ttl time.Duration) *Tokens {
	return &Tokens{key: key, ttl: ttl, now: time.Now}
}

// Issue creates a signed token for p and returns it with its expiry.
func (t *Tokens) Issue(p model.Principal) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	if p.OrgID != uuid.Nil {
		c.Org = p.OrgID.String()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.key)
	return signed, exp, err
}

// Verify checks signature and lifetime of raw and returns the caller it names.
func (t *Tokens) Verify(raw string) (model.Principal, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(raw, &c, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return t.key, nil
	},
		jwt.WithLeeway(tokenLeeway),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return model.Principal{}, errs.ErrUnauthorized
	}
	id, err := uuid.FromString(c.Subject)
	if err != nil || id == uuid.Nil {
		return model.Principal{}, errs.ErrUnauthorized
	}
	p := model.Principal{UserID: id}
	if c.Org != "" {
		if p.OrgID, err = uuid.FromString(c.Org); err != nil {
			return model.Principal{}, errs.ErrUnauthorized
		}
	}
	return p, nil
}

// bearerToken extracts "Authorization: Bearer <JWT>".
func bearerToken(r *http.Request) (string, bool) {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(v[7:])
	return tok, tok != ""
}

// Middleware rejects requests without a valid bearer token and stores the caller in context.
func (t *Tokens) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing bearer token"})
			return
		}
		p, err := t.Verify(raw)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid token"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
