// Package api exposes the bot administration, delegated swap and swap job
// endpoints over HTTP. Every /api/v1 request is authenticated by an ed25519
// request signature whose signer becomes the caller identity.
package api
