/*
Package itemlock provides the single-writer-per-item discipline.

Work on one item (transition requests, history appends) runs under that
item's lock, while different items proceed fully in parallel. An optional
ports.DistributedLocker extends the guarantee across replicas.
*/
package itemlock
