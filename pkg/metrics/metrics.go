// Package metrics exposes the Prometheus metrics named in spec §6.
// Built fresh (the teacher's copied files carried no metrics package);
// the metrics registry is initialized once at startup from
// configuration and never mutated thereafter (spec §9: "the only
// process-wide object is the metrics registry").
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// histogramBuckets and quantiles are the exact values spec §6 names.
var histogramBuckets = []float64{1e-4, 1e-3, 1e-2, 0.1, 0.5, 1, 5, 20}

var summaryObjectives = map[float64]float64{
	0:    0.0,
	0.25: 0.01,
	0.5:  0.01,
	0.75: 0.01,
	0.9:  0.01,
	0.95: 0.005,
	0.99: 0.005,
	1.0:  0.0,
}

// Registry bundles every named metric spec §6 requires.
type Registry struct {
	TransactionsSubmittedTotal  prometheus.Counter
	BlocksObservedTotal         prometheus.Counter
	DepositRequestsTotal        prometheus.Counter
	SigningRoundsCompletedTotal prometheus.Counter
	SigningRoundDurationSeconds prometheus.Histogram
	CoordinatorTenuresTotal     prometheus.Counter
	BuildInfo                   *prometheus.GaugeVec
}

// New registers every metric against reg and returns the bundle. Call
// once at startup.
func New(reg prometheus.Registerer, version, revision, arch string) *Registry {
	r := &Registry{
		TransactionsSubmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sbtc_signer",
			Name:      "transactions_submitted_total",
			Help:      "Total number of Bitcoin transactions submitted for broadcast.",
		}),
		BlocksObservedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sbtc_signer",
			Name:      "blocks_observed_total",
			Help:      "Total number of new canonical blocks observed.",
		}),
		DepositRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sbtc_signer",
			Name:      "deposit_requests_total",
			Help:      "Total number of deposit requests seen.",
		}),
		SigningRoundsCompletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sbtc_signer",
			Name:      "signing_rounds_completed_total",
			Help:      "Total number of threshold-signing rounds that completed successfully.",
		}),
		SigningRoundDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sbtc_signer",
			Name:      "signing_round_duration_seconds",
			Help:      "Duration of completed threshold-signing rounds.",
			Buckets:   histogramBuckets,
		}),
		CoordinatorTenuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sbtc_signer",
			Name:      "coordinator_tenures_total",
			Help:      "Total number of coordinator tenures this signer has held.",
		}),
		BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sbtc_signer",
			Name:      "build_info",
			Help:      "Build metadata, value is always 1.",
		}, []string{"version", "revision", "arch"}),
	}

	reg.MustRegister(
		r.TransactionsSubmittedTotal,
		r.BlocksObservedTotal,
		r.DepositRequestsTotal,
		r.SigningRoundsCompletedTotal,
		r.SigningRoundDurationSeconds,
		r.CoordinatorTenuresTotal,
		r.BuildInfo,
	)

	r.BuildInfo.WithLabelValues(version, revision, arch).Set(1)

	return r
}

// NewSigningRoundSummary exposes a summary variant of round duration
// using spec §6's exact quantile set, for deployments that prefer
// summaries over histograms for this metric.
func NewSigningRoundSummary() prometheus.Summary {
	return prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace:  "sbtc_signer",
		Name:       "signing_round_duration_seconds_summary",
		Help:       "Duration of completed threshold-signing rounds (quantile view).",
		Objectives: summaryObjectives,
	})
}
