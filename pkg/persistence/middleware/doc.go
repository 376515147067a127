// Package middleware decorates storage backends.
//
// Decorators only transform object payloads on their way in and out; routing,
// capabilities and transaction scopes pass through to the wrapped backend.
package middleware
