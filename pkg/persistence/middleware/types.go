package middleware

import "github.com/aretw0/strata/pkg/ports"

// Middleware allows wrapping a ClusterStorage to add behavior.
type Middleware func(ports.ClusterStorage) ports.ClusterStorage

// Wrap applies the middlewares in order; the last one is outermost and sees writes first.
func Wrap(store ports.ClusterStorage, mws ...Middleware) ports.ClusterStorage {
	for _, mw := range mws {
		if mw != nil {
			store = mw(store)
		}
	}
	return store
}
