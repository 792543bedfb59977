// Package auth provides outbound credentials for upstream RPC
// endpoints.
//
// The transport applies one Credential per endpoint before dispatching
// a request. Two schemes cover the providers this module targets: a
// static API key header, and short-lived HS256 bearer tokens for
// self-hosted nodes with an authenticated RPC port.
//
//	cred, err := auth.NewBearerJWT(auth.BearerJWTConfig{
//	    Secret: secretBytes,
//	    TTL:    30 * time.Second,
//	})
//
// Providers that encode the key in the URL path need no credential;
// use auth.None.
package auth
