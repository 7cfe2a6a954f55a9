package httpapi

import (
	"net/http"

	"github.com/gorilla/securecookie"
)

// setSessionCookie stamps the client-supplied (or freshly-minted) session_id
// into a signed cookie, per spec §4.G: it distinguishes concurrent users so
// each can be rate-limited independently.
func setSessionCookie(w http.ResponseWriter, cutter *securecookie.SecureCookie, sessionID string) {
	encoded, err := cutter.Encode(sessionCookieName, sessionID)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func readSessionCookie(r *http.Request, cutter *securecookie.SecureCookie) (string, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return "", false
	}
	var sessionID string
	if err := cutter.Decode(sessionCookieName, cookie.Value, &sessionID); err != nil {
		return "", false
	}
	return sessionID, true
}
