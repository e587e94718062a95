// Package ratelimiter provides per-key token bucket rate limiting on top of
// golang.org/x/time/rate, with HTTP middleware and key functions for users
// and client addresses.
//
//	l, _ := ratelimiter.New(cfg)
//	go l.Run(ctx, time.Minute)
//	r.Use(ratelimiter.Middleware(l, ratelimiter.ByUser(jwt.UserID, ratelimiter.ClientIP(false)), nil))
package ratelimiter
