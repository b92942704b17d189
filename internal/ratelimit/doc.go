// Package ratelimit enforces several trailing-window quotas at once
// ("5 per minute and 20 per hour") per endpoint and caller, with the
// counters kept in Redis so every process shares them.
//
// # Policies
//
// A policy string lists one to three windows:
//
//	policy, err := ratelimit.ParsePolicy("5/m;20/h;50/d")
//
// Units are s, m, h and d. Counts must be positive.
//
// # Engine
//
// Each key ("rate_limiter:{endpoint}:{identifier}") is a sorted set of event
// timestamps in milliseconds. One evaluation trims events older than the
// longest window, counts the events in each window, records the current event
// and refreshes the key TTL, all in one MULTI/EXEC round trip:
//
//	components, err := ratelimit.New(ratelimit.DefaultConfig(), redisClient, logger)
//	limited, err := components.Limiter.IsLimited(ctx, "10.0.0.1", "/users/login", policy)
//
// The request is limited when any window already holds MaxRequests events.
// The event is recorded either way. If Redis cannot answer, the call returns
// an ErrTypeStoreUnavailable error rather than a verdict.
//
// With BackendLock the same commands run as a plain pipeline while a redsync
// lock on the key is held. A lock that cannot be taken within the configured
// wait yields ErrTypeLockTimeout.
//
// # HTTP
//
// Guard turns a policy into middleware:
//
//	guard := ratelimit.NewGuard(components.Limiter, ratelimit.WithIdentityResolver(resolver))
//	mw, err := guard.Limit(ratelimit.ByIP, "5/m;20/h")
//	router.Handle("/users/login", mw(loginHandler))
//
// Limited requests get 429, missing users under ByUser get 401 and store
// failures get 503. The wrapped handler does not run in any of those cases.
package ratelimit
