// Package prometheus bridges the engine's counter snapshot into a
// prometheus.Collector so the metrics show up on a standard /metrics
// endpoint.
package prometheus
