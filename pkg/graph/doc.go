/*
Package graph implements the directed graph underlying every workflow.

Vertices live in an arena keyed by integer id and edges reference them by id,
so cyclic workflows (loops and joins) never form pointer cycles. Traversal
state is a side map owned by a single call; it is never stored on the vertex.
*/
package graph
