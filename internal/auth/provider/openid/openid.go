// Package openid implements an OpenID 2.0 relying party that uses the
// simple registration extension for profile attributes and indirect
// verification (check_authentication) to confirm assertions.
//
// The login request carries no per-session nonce or state. Integrators that
// need CSRF protection on the callback must add it around this package.
package openid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"roster-lookup/internal/auth"
	"roster-lookup/internal/logger"
)

const providerName = "openid"

const (
	NamespaceOpenID   = "http://specs.openid.net/auth/2.0"
	NamespaceSReg     = "http://openid.net/extensions/sreg/1.1"
	IdentifierSelect  = "http://specs.openid.net/auth/2.0/identifier_select"
	RequiredSRegField = "fullname,email,language,country,postcode"

	ModeCheckIDSetup        = "checkid_setup"
	ModeIDRes               = "id_res"
	ModeCheckAuthentication = "check_authentication"

	ParamMode = "openid.mode"

	// NoLoginURL is returned when this service's own URL is unknown.
	NoLoginURL = "#"

	validMarker = "is_valid:true"

	// bodyLimit caps how much of a verification response is read.
	bodyLimit = 64 << 10
)

// Provider talks to a single OpenID 2.0 provider endpoint. It returns
// identity facts only; no session or access decisions are made here.
type Provider struct {
	endpoint string
	client   *http.Client
	retries  int
}

// New creates a provider for endpoint. retries is the number of extra
// attempts made when the verification request fails at the transport level.
func New(endpoint string, timeout time.Duration, retries int) (*Provider, error) {
	if endpoint == "" {
		return nil, errors.New("openid endpoint is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid openid endpoint: %w", err)
	}
	if retries < 0 {
		retries = 0
	}

	return &Provider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		retries:  retries,
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// LoginURL builds the checkid_setup redirect with returnTo used as both
// openid.return_to and openid.realm. The result depends only on returnTo.
func (p *Provider) LoginURL(returnTo string) string {
	if returnTo == "" {
		return NoLoginURL
	}

	// Order is fixed so the URL is stable for a given returnTo.
	params := [][2]string{
		{"openid.ns", NamespaceOpenID},
		{"openid.mode", ModeCheckIDSetup},
		{"openid.return_to", returnTo},
		{"openid.realm", returnTo},
		{"openid.identity", IdentifierSelect},
		{"openid.claimed_id", IdentifierSelect},
		{"openid.ns.sreg", NamespaceSReg},
		{"openid.sreg.required", RequiredSRegField},
	}

	parts := make([]string, 0, len(params))
	for _, kv := range params {
		parts = append(parts, encodeComponent(kv[0])+"="+encodeComponent(kv[1]))
	}

	return p.endpoint + "?" + strings.Join(parts, "&")
}

// IsCallback reports whether params carry a positive assertion.
func IsCallback(params url.Values) bool {
	return params.Get(ParamMode) == ModeIDRes
}

// Verify replays the callback parameters to the provider with the mode set
// to check_authentication and reports whether the provider confirmed them.
// Every failure, including transport errors and non-2xx responses without
// the confirmation marker, yields false.
func (p *Provider) Verify(ctx context.Context, params url.Values) bool {
	replay := cloneValues(params)
	replay.Set(ParamMode, ModeCheckAuthentication)
	body := replay.Encode()

	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		content, err := p.post(ctx, body)
		if err == nil {
			valid := strings.Contains(content, validMarker)
			if !valid {
				logger.Warn("openid assertion rejected", map[string]any{
					"provider": providerName,
					"attempt":  attempt + 1,
				})
			}
			return valid
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	logger.Error("openid verification request failed", map[string]any{
		"provider": providerName,
		"error":    lastErr.Error(),
	})
	return false
}

func (p *Provider) post(ctx context.Context, body string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logger.Warn("openid verification returned non-success status", map[string]any{
			"provider": providerName,
			"status":   resp.StatusCode,
		})
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, bodyLimit))
	if err != nil {
		return "", fmt.Errorf("read verification response: %w", err)
	}
	return string(content), nil
}

// Identity maps the simple registration attributes of a verified callback.
func Identity(params url.Values) auth.Identity {
	return auth.Identity{
		FullName:    params.Get("openid.sreg.fullname"),
		Email:       strings.TrimSpace(params.Get("openid.sreg.email")),
		ClassSeat:   params.Get("openid.sreg.language"),
		Affiliation: params.Get("openid.sreg.country"),
		AuxiliaryID: params.Get("openid.sreg.postcode"),
	}
}

// encodeComponent escapes s for use as a query key or value, writing
// spaces as %20 rather than '+'.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
