package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// versionsAppended counts persisted versions by intent (create, append, analyze).
	versionsAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_versions_appended_total",
			Help: "Versions persisted, by upload intent.",
		},
		[]string{"intent"},
	)

	decodeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "review_decode_failures_total",
		Help: "Scoring outputs that could not be decoded and were stored as failures.",
	})

	duplicateTitles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "review_duplicate_titles_total",
		Help: "Create requests rejected because the title already exists for the user.",
	})

	// scoringDuration covers prompt rendering through parse. Buckets reach
	// several minutes because local models are slow.
	scoringDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "review_scoring_duration_seconds",
		Help:    "Time spent in the scoring collaborator.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160, 320},
	})
)

func init() {
	prometheus.MustRegister(versionsAppended, decodeFailures, duplicateTitles, scoringDuration)
}
