// Package authcore is a transport-agnostic credential and session
// lifecycle engine: password hashing, JWT issuance and verification,
// opaque-token sessions, TOTP-based MFA with single-use backup codes,
// password reset flows, and API keys.
//
// The engine does no I/O of its own beyond its collaborators: callers
// plug in a [store.Store] for persistence, an optional Redis client for
// distributed rate limiting, and an optional [AuditSink] for security
// event streaming. HTTP handlers, email delivery, and secret management
// are deliberately out of scope; the engine is the piece behind them.
//
// Construction goes through the builder:
//
//	engine, err := authcore.New().
//		WithStore(st).
//		WithRedis(rdb).
//		WithConfig(cfg).
//		Build()
package authcore
