// Package config provides the key→value configuration surface of the kernel.
//
// Components consume a Lookup. Values come from maps, environment variables,
// or YAML/TOML files flattened to dotted keys ("storage.route.Outcome").
// The typed Config covers process bootstrap: backends, routes, locking,
// metrics and tracing.
package config
