package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	errMissingToken  = errors.New("missing bearer token")
	errInvalidPrefix = errors.New("invalid authorization prefix")
	errInvalidToken  = errors.New("invalid bearer token")
)

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errMissingToken
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errInvalidPrefix
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}

// requireToken rejects requests that do not carry the shared API token.
// The X-Actor-* headers are only trusted behind it.
func requireToken(want string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, err := bearerToken(r)
			if err == nil && subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				err = errInvalidToken
			}
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
