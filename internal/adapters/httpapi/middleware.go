package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"donationcore/internal/logging"
	"donationcore/pkg/domain"
)

// RequestIDHeader is read from requests and echoed on responses.
const RequestIDHeader = "X-Request-ID"

type ownerKey struct{}

// ownerFrom returns the authenticated identity id, or "".
func ownerFrom(ctx context.Context) string {
	id, _ := ctx.Value(ownerKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// withLogger attaches a request-scoped entry carrying the request id and
// logs each completed request.
func withLogger(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)
			entry := logger.WithFields(logrus.Fields{
				"request-id": requestID,
				"path":       r.URL.Path,
				"method":     r.Method,
			})
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(logging.WithLogger(r.Context(), entry)))
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			entry.WithFields(logrus.Fields{
				"status":   rec.status,
				"bytes":    rec.bytes,
				"duration": time.Since(start).String(),
			}).Info("request completed")
		})
	}
}

// recoverer turns handler panics into a 500 envelope.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logging.FromContext(r.Context()).WithField("panic", v).Error("handler panicked")
				writeError(w, http.StatusInternalServerError, CodeInternal, internalMessage)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authenticate requires a bearer token and stores its subject as the owner.
func authenticate(identities domain.IdentityProvider) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				fail(w, r, domain.ErrUnauthorized)
				return
			}
			owner, err := identities.VerifyToken(r.Context(), strings.TrimSpace(token))
			if err != nil {
				if !errors.Is(err, domain.ErrUnauthorized) {
					err = fmt.Errorf("verify token: %w: %w", domain.ErrInternal, err)
				}
				fail(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), ownerKey{}, owner)
			ctx = logging.WithLogger(ctx, logging.FromContext(ctx).WithField("owner_id", owner))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
