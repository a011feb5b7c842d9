package handlers

import (
	"net/http"
	"sync/atomic"

	"github.com/pinchtab/veilgate/internal/web"
)

// SessionCounter reports how many sessions are live.
type SessionCounter interface {
	RunningIDs() []string
}

func snapshotMetrics() map[string]any {
	total := atomic.LoadUint64(&metricRequestsTotal)
	latencySum := atomic.LoadUint64(&metricRequestLatencyN)
	avgMs := 0.0
	if total > 0 {
		avgMs = float64(latencySum) / float64(total)
	}
	return map[string]any{
		"requestsTotal":  total,
		"requestsFailed": atomic.LoadUint64(&metricRequestsFailed),
		"avgLatencyMs":   avgMs,
		"rateLimited":    atomic.LoadUint64(&metricRateLimited),
		"rejectedRemote": atomic.LoadUint64(&metricRejectedRemote),
	}
}

// RegisterMetrics adds GET /metrics to mux.
func RegisterMetrics(mux *http.ServeMux, sessions SessionCounter) {
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		m := snapshotMetrics()
		if sessions != nil {
			m["sessionsRunning"] = len(sessions.RunningIDs())
		}
		web.JSON(w, 200, m)
	})
}
