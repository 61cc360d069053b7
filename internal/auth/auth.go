// Package auth provides JWT bearer authentication middleware and the request
// identity it derives: an authenticated user id, or a guest token for
// anonymous carts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	// ctxKey is the key used to store the request identity in context
	ctxKey contextKey = "identity"

	guestTokenHeader = "X-Guest-Token"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is who the request acts as. Exactly one of UserID and GuestToken
// is set; a request carrying neither has no identity in context.
type Identity struct {
	UserID     *uuid.UUID
	GuestToken string
	Email      string
	Admin      bool
}

// RoleAdmin marks tokens allowed to call the admin endpoints.
const RoleAdmin = "admin"

// Claims is the JWT payload issued at login.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens and extracts identities from requests.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Parse validates an HS256 token and returns its claims.
func (v *Verifier) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Issue signs a token for a user. Used by tests and the login flow.
func (v *Verifier) Issue(userID uuid.UUID, email string, ttl time.Duration) (string, error) {
	return v.IssueWithRole(userID, email, "", ttl)
}

// IssueWithRole signs a token carrying an explicit role claim.
func (v *Verifier) IssueWithRole(userID uuid.UUID, email, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// identify resolves the request identity: a valid bearer token wins, then a
// guest token header. An invalid bearer token is an error rather than a
// silent downgrade to guest.
func (v *Verifier) identify(r *http.Request) (*Identity, error) {
	header := r.Header.Get("Authorization")
	if header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return nil, fmt.Errorf("%w: authorization header is not a bearer token", ErrInvalidToken)
		}

		claims, err := v.Parse(token)
		if err != nil {
			return nil, err
		}
		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			return nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
		}
		return &Identity{UserID: &userID, Email: claims.Email, Admin: claims.Role == RoleAdmin}, nil
	}

	if guest := r.Header.Get(guestTokenHeader); guest != "" {
		return &Identity{GuestToken: guest}, nil
	}
	return nil, nil
}

// Middleware adds the request identity to context when one is present.
// Requests with an invalid bearer token are rejected; requests with no
// credentials pass through without an identity.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := v.identify(r)
		if err != nil {
			http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
			return
		}
		if identity != nil {
			r = r.WithContext(context.WithValue(r.Context(), ctxKey, identity))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser rejects requests that do not carry an authenticated user.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := FromContext(r.Context())
		if identity == nil || identity.UserID == nil {
			http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects requests whose token does not carry the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := FromContext(r.Context())
		if identity == nil || identity.UserID == nil {
			http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
			return
		}
		if !identity.Admin {
			http.Error(w, `{"error":"admin access required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireIdentity rejects requests with neither a user nor a guest token.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			http.Error(w, `{"error":"authentication or guest token required"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FromContext retrieves the request identity from context.
func FromContext(ctx context.Context) *Identity {
	if ctx == nil {
		return nil
	}
	identity, ok := ctx.Value(ctxKey).(*Identity)
	if !ok {
		return nil
	}
	return identity
}
