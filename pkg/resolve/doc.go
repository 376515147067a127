// Package resolve reads values addressed by cluster-relative references.
package resolve
