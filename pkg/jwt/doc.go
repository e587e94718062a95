// Package jwt verifies HS256 bearer tokens issued by the auth provider and
// exposes the authenticated user id through the request context.
//
//	svc, err := jwt.New(jwt.Config{Secret: secret})
//	r.Use(jwt.Middleware(svc))
//	...
//	userID := jwt.UserID(r.Context())
package jwt
