/*
Package ports defines the driven ports (interfaces) of the kernel.

These interfaces decouple the core logic from external implementations, allowing
the kernel to work with various storage backends, description sources and
event sinks.

# Key Interfaces

  - ClusterStorage: a storage backend plugin with per-cluster capabilities and key-scoped transactions.
  - DescriptionLoader: loads state machine and workflow definitions (e.g., from Loam or Memory).
  - DistributedLocker: provides distributed locking for single-writer-per-item access.
  - EventNotifier: publishes committed events.

RunClusterStorageContract verifies a backend against the ClusterStorage contract.
*/
package ports
