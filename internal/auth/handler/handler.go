package handler

import (
	"net/http"

	"roster-lookup/internal/auth/provider/openid"
	"roster-lookup/internal/flow"
	"roster-lookup/internal/logger"
	"roster-lookup/internal/session"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	flow     *flow.Controller
	sessions session.Store
	cookies  session.CookieOptions
}

func NewHandler(
	controller *flow.Controller,
	sessions session.Store,
	cookies session.CookieOptions,
) *Handler {
	return &Handler{
		flow:     controller,
		sessions: sessions,
		cookies:  cookies,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// Providers may return the assertion by GET or POST.
	r.GET("/", h.entry)
	r.POST("/", h.entry)
	r.GET("/auth/login", h.login)
	r.POST("/auth/logout", h.Logout)

	for _, route := range r.Routes() {
		logger.Debug("route registered", map[string]any{
			"method": route.Method,
			"path":   route.Path,
		})
	}
}

// entry serves the landing page, the provider callback and the
// authenticated view from a single URL, which is also the return_to URL.
func (h *Handler) entry(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	params := c.Request.Form

	// Fall back to the cookie for the token, but never add fields to a
	// callback: the provider checks the replayed set as sent.
	if params.Get(session.TokenParam) == "" && !openid.IsCallback(params) {
		if token := session.TokenFromRequest(c.Request); token != "" {
			params.Set(session.TokenParam, token)
		}
	}

	payload := h.flow.Handle(c.Request.Context(), params)

	if payload.Session != nil {
		session.SetCookie(c.Writer, payload.Session.Token, payload.Session.ExpiresAt, h.cookies)
	}

	c.JSON(statusFor(payload), payload)
}

func (h *Handler) login(c *gin.Context) {
	loginURL := h.flow.LoginURL()
	if loginURL == openid.NoLoginURL {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "public base url is not configured",
		})
		return
	}
	c.Redirect(http.StatusFound, loginURL)
}

func (h *Handler) Logout(c *gin.Context) {
	if token := session.TokenFromRequest(c.Request); token != "" {
		// Best effort; an unknown token is already logged out.
		if err := h.sessions.Delete(c.Request.Context(), token); err != nil {
			logger.Warn("session delete failed", map[string]any{
				"error": err.Error(),
			})
		}
		logger.Info("logout", map[string]any{
			"ip": c.ClientIP(),
		})
	}

	session.ClearCookie(c.Writer, h.cookies)

	c.Status(http.StatusNoContent)
}

func statusFor(p flow.Payload) int {
	if p.Failure == nil {
		return http.StatusOK
	}
	switch p.Failure.Kind {
	case flow.VerificationFailed:
		return http.StatusUnauthorized
	case flow.AccessDenied:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}
