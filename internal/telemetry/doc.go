// Package telemetry turns depot-core activity into Prometheus metrics,
// InfluxDB points and MQTT event messages.
//
// Recorder is the auth.EventSink handed to the auth service. It counts every
// event in Prometheus, queues a point for InfluxDB when a writer is
// configured, and hands the event to a background publisher for MQTT.
// Metrics also observes permission cache lookups and wraps the HTTP router
// with request counters and latency histograms.
package telemetry
