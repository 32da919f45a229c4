package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// APIKeyHeader carries the admin shared secret
const APIKeyHeader = "X-API-Key"

// AuthMiddleware rejects requests whose X-API-Key does not match key with a 401
// before the wrapped handler runs.
func AuthMiddleware(key string, log *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(APIKeyHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				log.WithFields(logrus.Fields{
					"path":   r.URL.Path,
					"remote": r.RemoteAddr,
				}).Warn("Rejected admin request with invalid API key")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error":  "Invalid API key",
					"status": http.StatusUnauthorized,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORS allows any origin to call the API and answers preflight requests
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,"+APIKeyHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
