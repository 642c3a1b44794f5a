// Package otel registers engine metrics with an OpenTelemetry meter.
//
// Every counter becomes an Int64ObservableCounter and every histogram bucket
// an Int64ObservableGauge. The caller owns the MeterProvider.
package otel
