package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/avekdev/devroom/internal/auth"
	"github.com/avekdev/devroom/internal/domain"
	"github.com/avekdev/devroom/internal/store"
	"github.com/go-chi/chi/v5"
)

const minPasswordLength = 6

// UserHandler serves registration, login and user listing.
type UserHandler struct {
	repo   store.Repository
	tokens *auth.JWTVerifier
}

// NewUserHandler creates a user handler.
func NewUserHandler(repo store.Repository, tokens *auth.JWTVerifier) *UserHandler {
	return &UserHandler{repo: repo, tokens: tokens}
}

// RegisterRoutes mounts the user routes on the router.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Post("/users/register", h.Register)
	r.Post("/users/login", h.Login)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.tokens))
		r.Get("/users/profile", h.Profile)
		r.Get("/users/all", h.All)
	})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

// Register creates an account and returns the user with a signed token.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if _, err := mail.ParseAddress(req.Email); err != nil {
		Error(w, http.StatusBadRequest, "invalid email address")
		return
	}
	if len(req.Password) < minPasswordLength {
		Error(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	now := time.Now()
	user := &domain.User{
		ID:        domain.NewID(),
		Email:     req.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.repo.CreateUser(r.Context(), user, hash); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			Error(w, http.StatusConflict, "email already registered")
			return
		}
		slog.Error("failed to create user", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	token, err := h.tokens.Issue(auth.Identity{ID: user.ID, Email: user.Email})
	if err != nil {
		slog.Error("failed to issue token", "error", err, "user_id", user.ID)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("user registered", "user_id", user.ID)
	JSON(w, http.StatusCreated, authResponse{User: user, Token: token})
}

// Login verifies credentials and returns the user with a signed token.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	user, hash, err := h.repo.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		slog.Error("failed to look up user", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil || !auth.CheckPassword(hash, req.Password) {
		Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.tokens.Issue(auth.Identity{ID: user.ID, Email: user.Email})
	if err != nil {
		slog.Error("failed to issue token", "error", err, "user_id", user.ID)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("user logged in", "user_id", user.ID)
	JSON(w, http.StatusOK, authResponse{User: user, Token: token})
}

// Profile returns the authenticated caller's user record.
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	user, err := h.repo.GetUser(r.Context(), identity.ID)
	if err != nil {
		slog.Error("failed to load profile", "error", err, "user_id", identity.ID)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		Error(w, http.StatusNotFound, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]*domain.User{"user": user})
}

// All lists every user except the caller, for the collaborator picker.
func (h *UserHandler) All(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	users, err := h.repo.ListUsersExcept(r.Context(), identity.ID)
	if err != nil {
		slog.Error("failed to list users", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if users == nil {
		users = []*domain.User{}
	}

	JSON(w, http.StatusOK, map[string][]*domain.User{"users": users})
}
