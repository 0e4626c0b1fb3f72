// Package metrics contains abstractions for emission of metrics generated while serving queries.
// Two output engines are supported, statsd and Prometheus, and they may be enabled together.
//
// Metrics are generated at various points in time throughout a single request lifecycle, so the
// emissions in this package are structured around hooks: a hook interface defines methods that
// the server's request handling routines invoke as a query moves through decoding, matching and
// forwarding. Implementations of the hook interfaces output the metrics to a backend engine,
// decoupled from the points at which they are invoked.
package metrics
