package session

import (
	"net/http"
	"strings"
	"time"
)

const (
	CookieName = "__Host-session"

	// TokenParam is the query/form parameter carrying the session token
	// between page refreshes.
	TokenParam = "token"
)

// CookieOptions defines how session cookies are issued.
type CookieOptions struct {
	Secure   bool
	SameSite http.SameSite
}

// SetCookie issues the session cookie. The __Host- prefix requires Path "/"
// and no Domain, so neither is configurable.
func SetCookie(w http.ResponseWriter, token string, expiresAt time.Time, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}

// ClearCookie removes the session cookie from the client.
func ClearCookie(w http.ResponseWriter, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}

// TokenFromRequest returns the session token passed explicitly as a query
// parameter, falling back to the session cookie.
func TokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get(TokenParam)); token != "" {
		return token
	}
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}
