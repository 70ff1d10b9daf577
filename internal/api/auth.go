package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// streamTokenParam carries the API key for EventSource clients, which cannot
// set an Authorization header. It is only honoured on the event stream.
const streamTokenParam = "access_token"

var (
	errNoCredentials = errors.New("missing Authorization header")
	errNotBearer     = errors.New("invalid Authorization header format")
	errEmptyKey      = errors.New("missing API key")
)

// keyMatches compares a presented key with the configured one in constant
// time. An empty configured key never matches.
func keyMatches(presented, configured string) bool {
	if configured == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}

// presentedKey returns the key a request authenticates with. The bearer
// header wins; the query token is accepted only when allowQuery is set.
func presentedKey(r *http.Request, allowQuery bool) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if allowQuery {
			if key := strings.TrimSpace(r.URL.Query().Get(streamTokenParam)); key != "" {
				return key, nil
			}
		}
		return "", errNoCredentials
	}

	key, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errNotBearer
	}
	if key = strings.TrimSpace(key); key == "" {
		return "", errEmptyKey
	}
	return key, nil
}

// authMiddleware rejects requests without the configured API key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return s.requireKey(false, next)
}

// streamAuthMiddleware is authMiddleware that also takes ?access_token=.
func (s *Server) streamAuthMiddleware(next http.Handler) http.Handler {
	return s.requireKey(true, next)
}

func (s *Server) requireKey(allowQuery bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := presentedKey(r, allowQuery)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !keyMatches(key, s.config.APIKey) {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
