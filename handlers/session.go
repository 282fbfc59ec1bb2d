package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"qrpay/utils"
)

// SessionCookie correlates a browser with its payment. It is not an
// authentication token.
const SessionCookie = "qrpay_session"

type sessionKey struct{}

// SessionMiddleware makes sure every request carries a session id, issuing a
// new cookie when the browser has none.
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := ""
		if cookie, err := r.Cookie(SessionCookie); err == nil {
			if _, err := uuid.Parse(cookie.Value); err == nil {
				sessionID = cookie.Value
			}
		}

		if sessionID == "" {
			sessionID = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    sessionID,
				Path:     "/",
				MaxAge:   3600 * 8, // 8 hours
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
			utils.Debug("session", "Issued session cookie", "session", sessionID)
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sessionID)))
	})
}

// SessionID returns the session attached by SessionMiddleware.
func SessionID(r *http.Request) string {
	id, _ := r.Context().Value(sessionKey{}).(string)
	return id
}
