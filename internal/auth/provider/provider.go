package provider

import (
	"context"
	"net/url"
)

// AssertionProvider defines the contract of an external identity provider
// that authenticates users by redirect and confirms the returned assertion.
// Implementations return identity facts only and must not perform session
// management or access decisions.
type AssertionProvider interface {
	// Name returns the provider identifier (e.g. "openid").
	Name() string

	// LoginURL returns the redirect that starts authentication. returnTo
	// is where the provider sends the user back to.
	LoginURL(returnTo string) string

	// Verify confirms a callback assertion with the provider. It never
	// returns an error; any failure means the assertion is not valid.
	Verify(ctx context.Context, params url.Values) bool
}
