package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// BasicAuth checks HTTP Basic credentials against a single configured user.
type BasicAuth struct {
	username string
	hash     []byte
	realm    string
}

// NewBasicAuth creates a BasicAuth. passwordHash is a bcrypt hash; when it is
// empty, password is hashed instead.
func NewBasicAuth(username, password, passwordHash string) (*BasicAuth, error) {
	if username == "" {
		return nil, errors.New("auth: username is required")
	}

	hash := []byte(passwordHash)
	if passwordHash == "" {
		if password == "" {
			return nil, errors.New("auth: password or password hash is required")
		}
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("auth: failed to hash password: %w", err)
		}
	} else if _, err := bcrypt.Cost(hash); err != nil {
		return nil, fmt.Errorf("auth: invalid password hash: %w", err)
	}

	return &BasicAuth{username: username, hash: hash, realm: "Authentication Required"}, nil
}

// Verify reports whether the credentials match.
func (a *BasicAuth) Verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := bcrypt.CompareHashAndPassword(a.hash, []byte(password)) == nil
	return userOK && passOK
}

// Require wraps next so it only runs for authenticated requests. onFailure,
// if set, is called for every rejected request.
func (a *BasicAuth) Require(next http.Handler, onFailure func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || !a.Verify(username, password) {
			if onFailure != nil {
				onFailure()
			}
			w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", a.realm))
			http.Error(w, "Unauthorized Access", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
