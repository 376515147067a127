/*
Package domain contains the value types shared by every layer of the kernel.

It is kept free of I/O. Higher packages (graph, statemachine, workflow,
history, storage) build on these types; adapters translate them to and from
their backends.

# Key Entities

  - ItemID / Agent: who and what an operation concerns.
  - Event: the immutable record of one realized transition.
  - TransactionKey: an opaque handle grouping pending writes.
  - ClusterType / Capability: persisted object categories and the support a backend declares for each.
  - Error kinds: ErrInvalidTransition, ErrObjectNotFound, ErrPersistency, ErrInvalidData, ...
*/
package domain
