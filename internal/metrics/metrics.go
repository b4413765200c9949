package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics records what a publishing run or a shard load did.
type Metrics interface {
	IncRuns(outcome string)
	ObserveStage(stage string, durationSeconds float64)
	IncAssetUploads(result string)
	AddShardsLoaded(subdir string, n int)
}

// Run outcomes.
const (
	OutcomePublished = "published"
	OutcomeExists    = "exists"
	OutcomeNoShard   = "no_shard"
	OutcomeFailed    = "failed"
)

// Asset upload results.
const (
	AssetUploaded = "uploaded"
	AssetSkipped  = "skipped"
)

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncRuns(string)               {}
func (Noop) ObserveStage(string, float64) {}
func (Noop) IncAssetUploads(string)       {}
func (Noop) AddShardsLoaded(string, int)  {}

// Prom implements Metrics on a private Prometheus registry. The process
// is short-lived, so metrics are pushed to a Pushgateway instead of being
// scraped.
type Prom struct {
	registry     *prometheus.Registry
	runs         *prometheus.CounterVec
	stages       *prometheus.HistogramVec
	assetUploads *prometheus.CounterVec
	shardsLoaded *prometheus.CounterVec
	once         sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Publishing runs by outcome",
		}, []string{"outcome"}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of publishing stages",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		assetUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_uploads_total",
			Help:      "Release asset uploads by result",
		}, []string{"result"}),
		shardsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shards_loaded_total",
			Help:      "Shards read by the bulk loader per subdir",
		}, []string{"subdir"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		p.registry.MustRegister(p.runs, p.stages, p.assetUploads, p.shardsLoaded)
	})
}

// Registry returns the registry the metrics are registered with.
func (p *Prom) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prom) IncRuns(outcome string) {
	p.runs.WithLabelValues(outcome).Inc()
}

func (p *Prom) ObserveStage(stage string, durationSeconds float64) {
	p.stages.WithLabelValues(stage).Observe(durationSeconds)
}

func (p *Prom) IncAssetUploads(result string) {
	p.assetUploads.WithLabelValues(result).Inc()
}

func (p *Prom) AddShardsLoaded(subdir string, n int) {
	p.shardsLoaded.WithLabelValues(subdir).Add(float64(n))
}

// Push sends all metrics to the Pushgateway at url under job, grouped by
// the given labels.
func (p *Prom) Push(url, job string, grouping map[string]string) error {
	pusher := push.New(url, job).Gatherer(p.registry)
	for name, value := range grouping {
		pusher = pusher.Grouping(name, value)
	}
	if err := pusher.Push(); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
