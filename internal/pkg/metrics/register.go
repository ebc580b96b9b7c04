// Package metrics holds the prometheus helpers shared by the client and the
// dev server.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Register adds c to reg. When an identical collector is already registered
// the existing one is returned, so wiring the same metrics twice in one
// process (tests, repeated CLI runs) shares the series instead of panicking.
func Register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
