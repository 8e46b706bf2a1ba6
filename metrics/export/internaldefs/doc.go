// Package internaldefs holds the metric names and bucket bounds shared by
// the Prometheus and OpenTelemetry exporters.
//
// Both exporters read these tables, so renaming a metric here renames it
// everywhere. The package performs no I/O.
package internaldefs
