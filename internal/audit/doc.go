// Package audit buffers auth audit events and delivers them to a sink off
// the request path.
//
// Sinks: [ChannelSink] for tests and in-process consumers,
// [JSONWriterSink] for line-delimited files, [ZapSink] for the service log
// and [KafkaSink] for a shared audit topic.
//
// The package decides nothing about which events exist; the engine does.
package audit
