package ratelimit

import "context"

// RateLimiter bounds call throughput toward an external collaborator.
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}
