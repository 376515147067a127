// Package outcome validates the documents attached to transitions.
//
// A transition may name an outcome schema (name and version). The kernel
// validates the caller's document against it before any write and stores the
// document in the Outcome cluster at "<schema>/<version>/<eventID>".
package outcome
