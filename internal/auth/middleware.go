package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ShayCichocki/roundtable/internal/logging"
)

// DefaultRealm is the realm announced in basic-auth challenges.
const DefaultRealm = "roundtable"

type contextKey struct{}

// WithUser returns a copy of ctx carrying username.
func WithUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, contextKey{}, username)
}

// UserFromContext returns the authenticated username, if any.
func UserFromContext(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(contextKey{}).(string)
	return u, ok && u != ""
}

// Middleware returns HTTP middleware requiring basic-auth credentials known
// to repo. Authenticated requests carry the username in their context.
func Middleware(repo UserRepository, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	logger = logging.OrDefault(logger)
	challenge := fmt.Sprintf(`Basic realm=%q`, DefaultRealm)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", challenge)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			err := repo.Verify(r.Context(), username, password)
			switch {
			case errors.Is(err, ErrInvalidCredentials):
				logger.Infow("authentication denied", "user", username, "path", r.URL.Path)
				w.Header().Set("WWW-Authenticate", challenge)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			case err != nil:
				logger.Errorw("authentication failed", "user", username, "error", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), username)))
		})
	}
}
