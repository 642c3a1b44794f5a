// Package prometheus exposes engine metrics as a prometheus.Collector.
//
// Counters are named rentauth_*_total; Authenticate latency is the
// histogram rentauth_authenticate_latency_seconds. The collector is never
// registered globally: register it yourself or mount [Handler].
package prometheus
