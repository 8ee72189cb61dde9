// Package rate provides Redis-backed rate limiting for security-sensitive
// authentication workflows.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - ac:login:id:  login attempts per identifier
//   - ac:login:ip:  login attempts per client IP
//   - ac:reset:     password reset requests per email
//
// Counters are shared state: with multiple replicas behind a load balancer
// every replica sees the same budget.
package rate
