package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/herald/internal/domain/model"
	"github.com/okian/herald/pkg/metrics"
)

// Ingest outcomes reported by the events endpoint.
const (
	outcomeAccepted     = "accepted"
	outcomeBackpressure = "backpressure"
	outcomeRejected     = "rejected"
)

// MetricsMiddleware records request count and latency for endpoint. Handlers
// that ingest events tag the response with tagIngest, and the middleware then
// also counts the request by event kind and outcome.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		durationMs := float64(time.Since(start).Milliseconds())
		status := strconv.Itoa(wrapped.statusCode)
		metrics.RecordHTTPRequest(endpoint, r.Method, status)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, status, durationMs)

		if wrapped.outcome != "" {
			metrics.RecordIngest(wrapped.kind, wrapped.outcome)
		}
		if wrapped.statusCode >= http.StatusBadRequest {
			metrics.RecordError("http_"+endpoint, getErrorType(wrapped.statusCode))
		}
	}
}

// tagIngest labels the request with the event kind and ingest outcome. It is
// a no-op when w is not wrapped by MetricsMiddleware.
func tagIngest(w http.ResponseWriter, kind model.Kind, outcome string) {
	if rw, ok := w.(*responseWriter); ok {
		rw.kind = kindLabel(kind)
		rw.outcome = outcome
	}
}

// kindLabel bounds the kind label to the kinds the pipeline understands.
func kindLabel(kind model.Kind) string {
	switch kind {
	case model.KindPullRequest, model.KindIssues, model.KindIssueComment, model.KindReview,
		model.KindReviewComment, model.KindMembership, model.KindInstallation:
		return string(kind)
	case "":
		return "unknown"
	}
	return "other"
}

func getErrorType(statusCode int) string {
	switch {
	case statusCode >= http.StatusInternalServerError:
		return "server_error"
	case statusCode == http.StatusTooManyRequests:
		return "backpressure"
	case statusCode == http.StatusNotFound:
		return "not_found"
	case statusCode == http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case statusCode >= http.StatusBadRequest:
		return "client_error"
	default:
		return "unknown"
	}
}

// responseWriter captures the status code and the ingest tags.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	kind       string
	outcome    string
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("failed to write response: %w", err)
	}
	return n, nil
}
