// Package auth validates bearer tokens and enforces the read and control
// scopes on the REST surface.
//
// Tokens are HS256 JWTs carrying a "scopes" claim. With no secret
// configured the middleware lets every request through, matching a bridge
// that runs on a companion computer behind the vehicle's own network.
package auth
