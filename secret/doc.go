// Package secret resolves credential material referenced from endpoint
// configuration and keeps it out of logs.
//
// Configuration values may reference the environment (${INFURA_KEY}) or
// an external provider (secretref:vault:path/to/key); Resolver turns
// both into plain values at pool construction time. RedactURL goes the
// other way: it masks keys embedded in endpoint URLs before they are
// logged or exposed through health snapshots.
package secret
