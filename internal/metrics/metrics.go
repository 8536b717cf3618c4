package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gustycube/baxter/internal/health"
)

var (
	LookupsTotal             = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "baxter_lookups_total", Help: "reputation lookups"}, []string{"status"})
	DecisionsTotal           = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "baxter_decisions_total", Help: "classifications recorded"}, []string{"scope", "class"})
	SkippedTotal             = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "baxter_skipped_total", Help: "targets skipped because they were already classified"}, []string{"scope"})
	EarlyExitsTotal          = prometheus.NewCounter(prometheus.CounterOpts{Name: "baxter_cluster_early_exits_total", Help: "clusters banned before the sample was exhausted"})
	WatchlistPromotionsTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "baxter_watchlist_promotions_total", Help: "watchlisted blocks promoted to banned"})
	EnforcementsTotal        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "baxter_enforcements_total", Help: "block actions applied"}, []string{"status"})
	RunDuration              = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "baxter_run_duration_seconds", Help: "duration of a classification run", Buckets: prometheus.ExponentialBuckets(1, 2, 10)})
)

func init() {
	prometheus.MustRegister(LookupsTotal, DecisionsTotal, SkippedTotal, EarlyExitsTotal, WatchlistPromotionsTotal, EnforcementsTotal, RunDuration)
}

func ServeWithHealth(addr string, healthHandler *health.Handler, log *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler.HealthHandler)
	mux.HandleFunc("/ready", healthHandler.ReadinessHandler)
	mux.HandleFunc("/live", healthHandler.LivenessHandler)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warnw("metrics server stopped", "err", err)
	}
}
