// Package cache provides TTLCache, the single generic read-through cache used
// for every derived tenant resource (account row, business list, admin flag,
// subscription snapshot).
//
// Each resource class gets its own TTLCache instance with its own TTL; the
// cache itself carries no resource-specific logic. An entry older than the
// TTL is treated as absent, never as stale-but-usable:
//
//	accounts := cache.New[*accounts.Account]("account", 2*time.Minute)
//	acct, err := accounts.GetOrLoad(ctx, id, func(ctx context.Context) (*accounts.Account, error) {
//		return store.GetAccount(ctx, id)
//	})
package cache
