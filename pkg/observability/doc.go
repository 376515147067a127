/*
Package observability provides the metrics and tracing instruments of the strata kernel.

Metrics are Prometheus collectors registered on a caller-supplied registerer.
Tracing helpers wrap OpenTelemetry so the kernel and the storage manager can
open spans without depending on a concrete exporter.
*/
package observability
