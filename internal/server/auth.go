package server

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/sift-labs/sift/internal/agent/core"
	"github.com/sift-labs/sift/internal/session"
	"github.com/sift-labs/sift/internal/store"
)

const (
	userIDKey   = "user_id"
	tokenCookie = "sift_token"
	tokenTTL    = 24 * time.Hour
)

type authHandler struct {
	store  *store.Store
	secret []byte
	logger *log.Logger
}

func newAuthHandler(st *store.Store, secret string, logger *log.Logger) *authHandler {
	return &authHandler{store: st, secret: []byte(secret), logger: logger}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c credentials) validate() error {
	if !strings.Contains(c.Email, "@") {
		return core.ValidationError{Field: "email", Reason: "a valid email is required"}
	}
	if len(c.Password) < 8 {
		return core.ValidationError{Field: "password", Reason: "password must be at least 8 characters"}
	}
	return nil
}

func (h *authHandler) signup(c echo.Context) error {
	var creds credentials
	if err := c.Bind(&creds); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := creds.validate(); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	id, err := h.store.CreateUser(c.Request().Context(), creds.Email, string(hash))
	if err != nil {
		return err
	}
	if err := h.setToken(c, id); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id, "email": creds.Email})
}

func (h *authHandler) login(c echo.Context) error {
	var creds credentials
	if err := c.Bind(&creds); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	user, err := h.store.GetUserByEmail(c.Request().Context(), creds.Email)
	if err != nil {
		if core.IsNotFound(err) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)) != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if err := h.setToken(c, user.ID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"id": user.ID, "email": user.Email})
}

func (h *authHandler) setToken(c echo.Context, userID string) error {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	})
	signed, err := token.SignedString(h.secret)
	if err != nil {
		return err
	}
	c.SetCookie(&http.Cookie{
		Name:     tokenCookie,
		Value:    signed,
		Path:     "/",
		Expires:  now.Add(tokenTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// require is the auth middleware for the session routes.
func (h *authHandler) require(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		path := c.Path()
		if strings.HasPrefix(path, "/api/auth/") {
			return next(c)
		}
		cookie, err := c.Cookie(tokenCookie)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		}
		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(cookie.Value, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return h.secret, nil
		})
		if err != nil || !token.Valid || claims.Subject == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		c.Set(userIDKey, claims.Subject)
		return next(c)
	}
}

// sessionRecord flattens a session into its persisted shape.
func sessionRecord(sess *session.Session, userID string) (store.SessionRecord, error) {
	results, err := json.Marshal(sess.State.Results)
	if err != nil {
		return store.SessionRecord{}, err
	}
	rec := store.SessionRecord{
		ID:         sess.ID,
		UserID:     userID,
		Query:      sess.Query.Text,
		Status:     sess.Status,
		Confidence: sess.State.Confidence,
		Iterations: sess.State.Iteration,
		Results:    results,
	}
	if !sess.FinishedAt.IsZero() {
		rec.FinishedAt = sql.NullTime{Time: sess.FinishedAt, Valid: true}
	}
	return rec, nil
}
