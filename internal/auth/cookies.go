package auth

import (
	"net/http"
	"time"
)

const (
	accessTokenCookieName  = "access_token"
	refreshTokenCookieName = "refresh_token"
)

// ShouldUseCookies reports whether auth material should travel in
// cookies instead of the response body. Browser clients attach an Origin
// header to cross-origin requests; clients already holding an auth
// cookie keep using cookies.
func ShouldUseCookies(r *http.Request) bool {
	if _, err := r.Cookie(refreshTokenCookieName); err == nil {
		return true
	}
	return r.Header.Get("Origin") != ""
}

// SetAuthCookies writes both tokens as HttpOnly cookies. Cross-site
// frontends need SameSite=None, which browsers only accept with Secure.
func SetAuthCookies(w http.ResponseWriter, accessToken, refreshToken string, secure bool, accessDuration, refreshDuration time.Duration) {
	sameSite := http.SameSiteLaxMode
	if secure {
		sameSite = http.SameSiteNoneMode
	}

	http.SetCookie(w, &http.Cookie{
		Name:     accessTokenCookieName,
		Value:    accessToken,
		Path:     "/",
		MaxAge:   int(accessDuration.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	})

	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    refreshToken,
		Path:     "/auth",
		MaxAge:   int(refreshDuration.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	})
}

// ClearAuthCookies expires both auth cookies.
func ClearAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessTokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// GetAccessTokenFromCookie reads the access token cookie.
func GetAccessTokenFromCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(accessTokenCookieName)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// GetRefreshTokenFromCookie reads the refresh token cookie.
func GetRefreshTokenFromCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(refreshTokenCookieName)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}
