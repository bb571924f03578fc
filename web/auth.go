package web

import (
	"crypto/subtle"
	"log"
	"net/http"

	"github.com/goji/httpauth"
	"github.com/gorilla/securecookie"
)

const (
	cookieName  = "mnistlab"
	cookieValue = "authenticated"
)

type AuthMiddleware struct {
	sc   *securecookie.SecureCookie
	opts httpauth.AuthOptions
}

// Setup new middleware for authenticating requests against a single user and password.
func NewAuthMiddleware(user, password string) AuthMiddleware {
	hashKey := securecookie.GenerateRandomKey(32)
	blockKey := securecookie.GenerateRandomKey(32)
	return AuthMiddleware{
		sc: securecookie.New(hashKey, blockKey),
		opts: httpauth.AuthOptions{
			Realm:    "mnistlab",
			AuthFunc: checkPassword(user, password),
		},
	}
}

// Middleware lets requests with a valid login cookie through. Other requests must pass
// basic auth, after which the cookie is issued.
func (mw AuthMiddleware) Middleware(next http.Handler) http.Handler {
	login := httpauth.BasicAuth(mw.opts)(mw.issueCookie(next))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if mw.loggedIn(r) {
			next.ServeHTTP(w, r)
		} else {
			login.ServeHTTP(w, r)
		}
	})
}

func (mw AuthMiddleware) loggedIn(r *http.Request) bool {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return false
	}
	var value string
	return mw.sc.Decode(cookieName, cookie.Value, &value) == nil && value == cookieValue
}

// login cookie lasts for the browser session and is only sent over https if that is how it was issued
func (mw AuthMiddleware) issueCookie(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoded, err := mw.sc.Encode(cookieName, cookieValue)
		if err != nil {
			log.Println("login cookie:", err)
		} else {
			http.SetCookie(w, &http.Cookie{
				Name:     cookieName,
				Value:    encoded,
				Path:     "/",
				HttpOnly: true,
				Secure:   r.TLS != nil,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r)
	})
}

func checkPassword(user, password string) func(string, string, *http.Request) bool {
	return func(u, p string, r *http.Request) bool {
		ok := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1 &&
			subtle.ConstantTimeCompare([]byte(p), []byte(password)) == 1
		log.Println("auth", u, ok)
		return ok
	}
}
