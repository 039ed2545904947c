package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all Prometheus metrics for trialgate.
type Registry struct {
	// Ingestion
	TrialsIngested   prometheus.Counter
	VersionsWritten  *prometheus.CounterVec // change="new","initial"
	IngestSkipped    *prometheus.CounterVec // reason="unchanged","filtered","integrity"
	RegistryRequests *prometheus.CounterVec // outcome="ok","rate_limited","transient","permanent"
	RegistryRetries  prometheus.Counter
	IngestDuration   prometheus.Histogram

	// Resolver
	ResolverDecisions *prometheus.CounterVec // mode, method
	ReviewQueueDepth  prometheus.Gauge
	LLMCalls          *prometheus.CounterVec // outcome="ok","error"

	// Scoring
	SignalsFired  *prometheus.CounterVec // signal, severity
	GatesFired    *prometheus.CounterVec // gate
	StopRuleHits  *prometheus.CounterVec // rule
	ScoreRuns     prometheus.Counter
	PosteriorDist prometheus.Histogram

	// Documents
	DocsIngested   *prometheus.CounterVec // status
	LinksGenerated *prometheus.CounterVec // link_type
	LinksPromoted  *prometheus.CounterVec // link_type
}

// NewRegistry creates all trialgate metrics.
func NewRegistry() *Registry {
	return &Registry{
		TrialsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trialgate_trials_ingested_total",
			Help: "Total trials seen by the ingest pipeline",
		}),
		VersionsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trialgate_versions_written_total",
			Help: "Trial versions persisted, by kind",
		}, []string{"kind"}),
		IngestSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trialgate_ingest_skipped_total",
			Help: "Trials skipped during ingest, by reason",
		}, []string{"reason"}),
		RegistryRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trialgate_registry_requests_total",
			Help: "Registry page fetches, by outcome",
		}, []string{"outcome"}),
		RegistryRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trialgate_registry_retries_total",
			Help: "Registry fetch retries after transient failures",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trialgate_ingest_duration_seconds",
			Help:    "Duration of full ingest batches",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),

		ResolverDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trialgate_resolver_decisions_total",
			Help: "Sponsor resolution outcomes, by mode and method",
		}, []string{"mode", "method"}),
		ReviewQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trialgate_review_queue_depth",
			Help: "Pending sponsor review items",
		}),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trialgate_llm_calls_total",
			Help: "LLM assist calls, by outcome",
		}, []string{"outcome"}),

		SignalsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trialgate_signals_fired_total",
			Help: "Risk signals fired, by signal id and severity",
		}, []string{"signal", "severity"}),
		GatesFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trialgate_gates_fired_total",
			Help: "Evidence gates fired, by gate id",
		}, []string{"gate"}),
		StopRuleHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trialgate_stop_rule_hits_total",
			Help: "Stop rules triggered, by rule id",
		}, []string{"rule"}),
		ScoreRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trialgate_score_runs_total",
			Help: "Completed trial scoring evaluations",
		}),
		PosteriorDist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trialgate_posterior",
			Help:    "Distribution of computed posterior failure probabilities",
			Buckets: prometheus.LinearBuckets(0.05, 0.05, 19),
		}),

		DocsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trialgate_docs_ingested_total",
			Help: "Documents ingested, by status",
		}, []string{"status"}),
		LinksGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trialgate_links_generated_total",
			Help: "Document-asset links generated, by heuristic",
		}, []string{"link_type"}),
		LinksPromoted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trialgate_links_promoted_total",
			Help: "Document-asset links promoted into scoring, by heuristic",
		}, []string{"link_type"}),
	}
}

// Register registers every metric with the given Prometheus registerer.
func (r *Registry) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		r.TrialsIngested, r.VersionsWritten, r.IngestSkipped,
		r.RegistryRequests, r.RegistryRetries, r.IngestDuration,
		r.ResolverDecisions, r.ReviewQueueDepth, r.LLMCalls,
		r.SignalsFired, r.GatesFired, r.StopRuleHits, r.ScoreRuns, r.PosteriorDist,
		r.DocsIngested, r.LinksGenerated, r.LinksPromoted,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
