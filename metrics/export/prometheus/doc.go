// Package prometheus renders goEnroll counters in Prometheus text format.
//
// [NewExporter] wraps a [goEnroll.Engine]; mount [Exporter.Handler] on a
// net/http mux or [Exporter.FiberHandler] on a fiber app. Counters are
// named goenroll_*_total and the single histogram is
// goenroll_operation_latency_seconds. Nothing is registered globally.
package prometheus
