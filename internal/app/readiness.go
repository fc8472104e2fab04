package app

import (
	"context"
	"fmt"

	"github.com/creditdispatch/inference-broker/internal/domain"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BuildReadinessChecks returns the db and message-bus readiness probes wired
// into ReadyzHandler.
func BuildReadinessChecks(pool Pinger, bus domain.Bus) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	dbCheck := func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
	busCheck := func(ctx context.Context) error {
		if bus == nil {
			return fmt.Errorf("bus not configured")
		}
		return bus.Ping(ctx)
	}
	return dbCheck, busCheck
}
