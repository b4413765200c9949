// Package metrics counts publishing runs, stage durations, asset uploads
// and loaded shards. [Prom] keeps them on its own registry and can push
// them to a Prometheus Pushgateway at the end of a run.
package metrics
