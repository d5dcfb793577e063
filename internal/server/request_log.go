package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jacksonlee411/loanportal/internal/routing"
)

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

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// requestFields is filled in by inner middleware so the outer log line can
// name the principal.
type requestFields struct {
	principalID string
}

type requestFieldsKey struct{}

func notePrincipal(ctx context.Context, id string) {
	if f, ok := ctx.Value(requestFieldsKey{}).(*requestFields); ok {
		f.principalID = id
	}
}

func withRequestLog(classifier *routing.Classifier, logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		fields := &requestFields{}
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestFieldsKey{}, fields)))

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		logFn := logger.Info
		if status >= http.StatusInternalServerError {
			logFn = logger.Error
		}
		logFn("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("duration", time.Since(start)),
			zap.String("route_class", string(classifier.Classify(r.URL.Path))),
			zap.String("principal_id", fields.principalID),
			zap.String("trace_id", routing.TraceID(r)),
		)
	})
}
