// Package dedupe remembers idempotency keys for a bounded time so a retried
// registration returns the agent the first attempt created.
//
//	id, hit, err := cache.Claim(key, func() (string, error) {
//		return registry.Register(reg)
//	})
package dedupe
