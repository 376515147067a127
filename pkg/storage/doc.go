/*
Package storage routes cluster operations to backend plugins.

Each cluster type is routed to one or more backends, either explicitly through
the "storage.route.<Cluster>" configuration key or, by default, to every
backend declaring support for it. Reads consult routed backends in order
(first hit wins for Get, union for List); writes fan out to all of them.

Transaction keys are created by Begin and joined lazily by each backend on
first use. Commit and Abort reach only the backends a key touched, so callers
see a single visibility contract regardless of how many backends an update
spans.
*/
package storage
