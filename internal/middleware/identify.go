package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is who the caller is, as far as the payment API cares.
type Identity struct {
	CustomerID   string         `json:"customerId"`
	CustomerData map[string]any `json:"customerData,omitempty"`
}

// Claims are the JWT claims Identify understands. The subject is used when
// customer_id is absent.
type Claims struct {
	CustomerID string `json:"customer_id"`
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Identify resolves the caller before any action runs. A bearer token signed
// with jwtSecret wins; otherwise the customer header is trusted as-is.
// Requests with neither pass through anonymously. An invalid token is
// rejected with 401.
func Identify(jwtSecret, customerHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id *Identity

			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				if jwtSecret == "" {
					writeAuthError(w, "token authentication is not configured", "auth_unavailable")
					return
				}
				tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
				if !ok {
					writeAuthError(w, "invalid authorization scheme", "auth_invalid_scheme")
					return
				}
				claims, err := parseToken(tokenString, jwtSecret)
				if err != nil {
					writeAuthError(w, "invalid token", "auth_invalid")
					return
				}
				id = claims.identity()
			} else if customerHeader != "" {
				if cid := strings.TrimSpace(r.Header.Get(customerHeader)); cid != "" {
					id = &Identity{CustomerID: cid}
				}
			}

			if id != nil {
				r = r.WithContext(WithIdentity(r.Context(), *id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseToken(tokenString, secret string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	return claims, nil
}

func (c *Claims) identity() *Identity {
	id := &Identity{CustomerID: c.CustomerID}
	if id.CustomerID == "" {
		id.CustomerID = c.Subject
	}
	data := map[string]any{}
	if c.Email != "" {
		data["email"] = c.Email
	}
	if c.Name != "" {
		data["name"] = c.Name
	}
	if len(data) > 0 {
		id.CustomerData = data
	}
	return id
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity Identify attached, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

func writeAuthError(w http.ResponseWriter, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
		"code":  code,
	})
}
