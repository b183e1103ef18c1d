package api

import (
	"net/http"
)

// StatsProvider exposes the pipeline counters.
type StatsProvider interface {
	GetStats() map[string]any
}

// StatsHandler serves the pipeline counters plus ratios derived from them.
type StatsHandler struct {
	statsProvider StatsProvider
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(statsProvider StatsProvider) *StatsHandler {
	return &StatsHandler{statsProvider: statsProvider}
}

// HandleStats handles GET /stats.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	stats := h.statsProvider.GetStats()
	out := make(map[string]any, len(stats)+4)
	for k, v := range stats {
		out[k] = v
	}
	addRatio(out, "queue_utilization", stats, "queue_size", "queue_capacity")
	addRatio(out, "duplicate_ratio", stats, "duplicates", "received")
	addRatio(out, "drop_ratio", stats, "dropped", "received")
	addRatio(out, "delivery_failure_ratio", stats, "delivery_failures", "decisions")

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, out)
}

// addRatio sets out[name] to num/den when both counters are present and den
// is positive.
func addRatio(out map[string]any, name string, stats map[string]any, num, den string) {
	n, ok := asFloat(stats[num])
	if !ok {
		return
	}
	d, ok := asFloat(stats[den])
	if !ok || d <= 0 {
		return
	}
	out[name] = n / d
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
