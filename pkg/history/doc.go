// Package history implements the append-only, strictly ordered event log of an item.
//
// Events are stored as JSON in the History cluster at path "<id>", with ids
// contiguous from 0. Appends for one item are serialized through an
// itemlock.Manager; appends for different items never contend.
package history
