package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/api/middleware"
)

const tokenTTL = 12 * time.Hour

// AuthHandler issues operator tokens for local and mock-provider deployments.
// Production tokens come from the console's identity provider.
type AuthHandler struct{}

func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login handles POST /v1/auth/token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	uid, err := uuid.Parse(strings.TrimSpace(req.UserID))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-user-id", "Invalid user_id")
		return
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = middleware.RoleAdmin
	}

	tokenString, err := IssueToken(uid, role, tokenTTL)
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "auth/sign-failed", "Failed to sign token")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"token": tokenString})
}

// IssueToken signs an HS256 token accepted by middleware.AuthMiddleware.
func IssueToken(userID uuid.UUID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID.String(),
		"sub":     userID.String(),
		"role":    role,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	if iss := middleware.JWTIssuer(); iss != "" {
		claims["iss"] = iss
	}
	if aud := middleware.JWTAudience(); aud != "" {
		claims["aud"] = aud
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(middleware.JWTSecret())
}
