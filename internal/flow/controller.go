package flow

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"roster-lookup/internal/auth"
	"roster-lookup/internal/auth/policy"
	"roster-lookup/internal/auth/provider"
	"roster-lookup/internal/auth/provider/openid"
	"roster-lookup/internal/logger"
	"roster-lookup/internal/records"
	"roster-lookup/internal/session"
)

// View names the page the presentation layer should render.
type View string

const (
	ViewLanding       View = "landing"
	ViewAuthenticated View = "authenticated"
	ViewFailure       View = "failure"
)

// FailureKind classifies a terminal failure of the sign-in flow.
type FailureKind string

const (
	VerificationFailed FailureKind = "verification_failed"
	AccessDenied       FailureKind = "access_denied"
	SessionUnavailable FailureKind = "session_unavailable"
)

// Failure is the error payload. Affiliation is set for AccessDenied only and
// carries the provider's value verbatim.
type Failure struct {
	Kind        FailureKind `json:"kind"`
	Message     string      `json:"message"`
	Affiliation string      `json:"affiliation,omitempty"`
}

// Payload is what the controller hands to the presentation layer. Exactly
// one of LoginURL, Identity or Failure is meaningful, as given by View.
type Payload struct {
	View       View             `json:"view"`
	SchoolName string           `json:"schoolName"`
	PageTitle  string           `json:"pageTitle"`
	LoginURL   string           `json:"loginUrl,omitempty"`
	Identity   *auth.Identity   `json:"user,omitempty"`
	Records    records.Records  `json:"results"`
	Token      string           `json:"token,omitempty"`
	Failure    *Failure         `json:"error,omitempty"`
	Session    *session.Session `json:"-"`
}

// RecordLookup is satisfied by *records.Aggregator.
type RecordLookup interface {
	Lookup(ctx context.Context, key string) records.Records
}

// AccessChecker is satisfied by policy.Policy.
type AccessChecker interface {
	Check(identity auth.Identity) error
}

// Site carries the page chrome passed through to the renderer.
type Site struct {
	SchoolName string
	PageTitle  string
	// BaseURL is this service's public URL; the provider returns users here.
	BaseURL string
}

// Controller runs one request through the sign-in flow. It holds no
// per-request state and is safe for concurrent use.
type Controller struct {
	provider provider.AssertionProvider
	sessions session.Store
	policy   AccessChecker
	records  RecordLookup
	site     Site
}

func NewController(
	p provider.AssertionProvider,
	sessions session.Store,
	access AccessChecker,
	lookup RecordLookup,
	site Site,
) *Controller {
	return &Controller{
		provider: p,
		sessions: sessions,
		policy:   access,
		records:  lookup,
		site:     site,
	}
}

// Handle picks the first applicable path: a live session token, then a
// provider callback, then the landing page. It never returns an error;
// failures are reported in the payload.
func (c *Controller) Handle(ctx context.Context, params url.Values) Payload {
	if token := strings.TrimSpace(params.Get(session.TokenParam)); token != "" {
		if p, ok := c.resume(ctx, token); ok {
			return p
		}
	}

	if openid.IsCallback(params) {
		return c.callback(ctx, params)
	}

	return c.landing()
}

// LoginURL returns the provider redirect for this site.
func (c *Controller) LoginURL() string {
	return c.provider.LoginURL(c.site.BaseURL)
}

func (c *Controller) resume(ctx context.Context, token string) (Payload, bool) {
	sess, err := c.sessions.Get(ctx, token)
	if err != nil {
		logger.Error("session lookup failed", map[string]any{
			"error": err.Error(),
		})
		return Payload{}, false
	}
	if sess == nil {
		return Payload{}, false
	}

	return c.authenticated(ctx, sess), true
}

func (c *Controller) callback(ctx context.Context, params url.Values) Payload {
	if !c.provider.Verify(ctx, params) {
		return c.failure(Failure{
			Kind:    VerificationFailed,
			Message: "authentication failed: the identity provider did not confirm the assertion",
		})
	}

	identity := openid.Identity(params)

	if err := c.policy.Check(identity); err != nil {
		var denied *policy.DeniedError
		if !errors.As(err, &denied) {
			denied = &policy.DeniedError{Message: err.Error(), Affiliation: identity.Affiliation}
		}
		logger.Warn("access restricted", map[string]any{
			"email":       identity.Email,
			"affiliation": denied.Affiliation,
		})
		return c.failure(Failure{
			Kind:        AccessDenied,
			Message:     denied.Message,
			Affiliation: denied.Affiliation,
		})
	}

	token, err := c.sessions.Create(ctx, identity)
	if err != nil {
		logger.Error("session create failed", map[string]any{
			"error": err.Error(),
		})
		return c.failure(Failure{
			Kind:    SessionUnavailable,
			Message: "sign-in succeeded but no session could be created; please try again",
		})
	}

	logger.Info("login success", map[string]any{
		"email": identity.Email,
	})

	now := time.Now()
	return c.authenticated(ctx, &session.Session{
		Token:     token,
		Identity:  identity,
		CreatedAt: now,
		ExpiresAt: now.Add(session.TTL),
	})
}

func (c *Controller) authenticated(ctx context.Context, sess *session.Session) Payload {
	identity := sess.Identity
	return Payload{
		View:       ViewAuthenticated,
		SchoolName: c.site.SchoolName,
		PageTitle:  c.site.PageTitle,
		Identity:   &identity,
		Records:    c.records.Lookup(ctx, identity.LookupKey()),
		Token:      sess.Token,
		Session:    sess,
	}
}

func (c *Controller) landing() Payload {
	return Payload{
		View:       ViewLanding,
		SchoolName: c.site.SchoolName,
		PageTitle:  c.site.PageTitle,
		LoginURL:   c.LoginURL(),
	}
}

func (c *Controller) failure(f Failure) Payload {
	return Payload{
		View:       ViewFailure,
		SchoolName: c.site.SchoolName,
		PageTitle:  c.site.PageTitle,
		LoginURL:   c.LoginURL(),
		Failure:    &f,
	}
}
