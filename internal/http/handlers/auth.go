package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hongminglow/flatkeeper/internal/accounts"
	"github.com/hongminglow/flatkeeper/internal/auth"
	"github.com/hongminglow/flatkeeper/internal/errs"
	"github.com/hongminglow/flatkeeper/internal/http/respond"
	"github.com/hongminglow/flatkeeper/internal/logging"
	"github.com/hongminglow/flatkeeper/internal/models"
	"github.com/hongminglow/flatkeeper/internal/models/dto"
)

// RoleResolver resolves the role of an identity, creating its default
// profile on first sight.
type RoleResolver interface {
	Resolve(ctx context.Context, identityID string) (models.Role, error)
}

// AuthHandler owns register/login endpoints backed by the account store.
type AuthHandler struct {
	accounts *accounts.Service
	tokens   *auth.TokenManager
	roles    RoleResolver
	log      *zap.Logger
}

// NewAuthHandler constructs the handler.
func NewAuthHandler(accounts *accounts.Service, tokens *auth.TokenManager, roles RoleResolver, log *zap.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, tokens: tokens, roles: roles, log: logging.OrNop(log)}
}

// Register attaches auth routes to the router.
func (h *AuthHandler) Register(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
}

func (h *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	account, err := h.accounts.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		respond.FromError(w, err, nil)
		return
	}
	// The first resolution writes the default User profile.
	if _, err := h.roles.Resolve(r.Context(), account.IdentityID); err != nil {
		h.log.Warn("default profile not created at registration",
			zap.String("identity", account.IdentityID), zap.Error(err))
	}
	respond.JSON(w, http.StatusOK, "User created successfully", account)
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	account, err := h.accounts.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errs.HasCode(err, errs.CodeUnauthorized) {
			respond.Error(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		respond.FromError(w, err, nil)
		return
	}
	role, err := h.roles.Resolve(r.Context(), account.IdentityID)
	if err != nil {
		respond.FromError(w, err, nil)
		return
	}
	token, err := h.tokens.Generate(account.IdentityID, account.Email)
	if err != nil {
		h.log.Error("token generation failed", zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	respond.JSON(w, http.StatusOK, "login successful", dto.LoginResponse{
		Token:      token,
		IdentityID: account.IdentityID,
		Email:      account.Email,
		Role:       string(role),
	})
}
