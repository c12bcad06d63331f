package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/api/problem"
)

// Operator roles carried in the token's role claim.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

var (
	errMissingBearer = errors.New("bearer token required")
	errBadClaims     = errors.New("invalid token claims")
)

type jwtSettings struct {
	secret   []byte
	issuer   string
	audience string
}

var jwtCfg jwtSettings

type authClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// SetJWTSecret installs the HS256 signing key. Empty secrets are ignored.
func SetJWTSecret(secret string) {
	if secret == "" {
		return
	}
	jwtCfg.secret = []byte(secret)
}

// SetJWTValidation pins the expected iss and aud claims; empty values skip the check.
func SetJWTValidation(issuer, audience string) {
	jwtCfg.issuer = strings.TrimSpace(issuer)
	jwtCfg.audience = strings.TrimSpace(audience)
}

func JWTSecret() []byte {
	return append([]byte(nil), jwtCfg.secret...)
}

func JWTIssuer() string   { return jwtCfg.issuer }
func JWTAudience() string { return jwtCfg.audience }

// AuthMiddleware authenticates console operators and stores their Principal.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(jwtCfg.secret) == 0 {
			problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/misconfigured"), http.StatusText(http.StatusInternalServerError), "auth is not configured")
			return
		}

		raw, err := bearerToken(r)
		if err != nil {
			problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/authorization-header-required"), http.StatusText(http.StatusUnauthorized), "Bearer token required")
			return
		}

		principal, err := parsePrincipal(raw)
		if err != nil {
			slug, detail := "auth/invalid-token", "Invalid token"
			if errors.Is(err, errBadClaims) {
				slug, detail = "auth/invalid-token-claims", "Invalid token claims"
			}
			problem.Write(w, r, http.StatusUnauthorized, problem.Type(slug), http.StatusText(http.StatusUnauthorized), detail)
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole admits only operators holding one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := allowed[UserRoleFromContext(r.Context())]; !ok {
				problem.Write(w, r, http.StatusForbidden, problem.Type("auth/insufficient-permissions"), http.StatusText(http.StatusForbidden), "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errMissingBearer
	}
	return strings.TrimSpace(token), nil
}

func parsePrincipal(raw string) (Principal, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if jwtCfg.issuer != "" {
		opts = append(opts, jwt.WithIssuer(jwtCfg.issuer))
	}
	if jwtCfg.audience != "" {
		opts = append(opts, jwt.WithAudience(jwtCfg.audience))
	}

	claims := &authClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return jwtCfg.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, err
	}
	if !token.Valid {
		return Principal{}, jwt.ErrTokenInvalidClaims
	}

	// Actor ids are written to the audit log, so they must be UUIDs.
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return Principal{}, errBadClaims
	}
	if claims.Subject != "" && claims.Subject != claims.UserID {
		return Principal{}, errBadClaims
	}
	if claims.Role == "" {
		return Principal{}, errBadClaims
	}
	return Principal{UserID: userID, Role: claims.Role}, nil
}
