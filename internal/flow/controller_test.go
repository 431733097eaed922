package flow

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"roster-lookup/internal/auth"
	"roster-lookup/internal/auth/policy"
	"roster-lookup/internal/records"
	"roster-lookup/internal/session"
)

type providerMock struct {
	mock.Mock
}

func (m *providerMock) Name() string { return "mock" }

func (m *providerMock) LoginURL(returnTo string) string {
	return "https://idp.example/op?return_to=" + url.QueryEscape(returnTo)
}

func (m *providerMock) Verify(ctx context.Context, params url.Values) bool {
	args := m.Called(params)
	return args.Bool(0)
}

type storeMock struct {
	mock.Mock
}

func (m *storeMock) Create(ctx context.Context, identity auth.Identity) (string, error) {
	args := m.Called(identity)
	return args.String(0), args.Error(1)
}

func (m *storeMock) Get(ctx context.Context, token string) (*session.Session, error) {
	args := m.Called(token)
	sess, _ := args.Get(0).(*session.Session)
	return sess, args.Error(1)
}

func (m *storeMock) Delete(ctx context.Context, token string) error {
	return m.Called(token).Error(0)
}

type lookupMock struct {
	mock.Mock
}

func (m *lookupMock) Lookup(ctx context.Context, key string) records.Records {
	args := m.Called(key)
	rec, _ := args.Get(0).(records.Records)
	return rec
}

var site = Site{SchoolName: "台北市立X國小", PageTitle: "查詢系統", BaseURL: "https://svc.example/app"}

func newController(p *providerMock, s *storeMock, l RecordLookup, access AccessChecker) *Controller {
	return NewController(p, s, access, l, site)
}

func callback(email, school string) url.Values {
	return url.Values{
		"openid.mode":          {"id_res"},
		"openid.sig":           {"abc"},
		"openid.sreg.fullname": {"Alice Chen"},
		"openid.sreg.email":    {email},
		"openid.sreg.language": {"601,12"},
		"openid.sreg.country":  {school},
		"openid.sreg.postcode": {"A123"},
	}
}

func TestHandle_FreshVisitReturnsLanding(t *testing.T) {
	p, s, l := &providerMock{}, &storeMock{}, &lookupMock{}
	c := newController(p, s, l, policy.Policy{})

	got := c.Handle(context.Background(), url.Values{})

	assert.Equal(t, ViewLanding, got.View)
	assert.Equal(t, "https://idp.example/op?return_to=https%3A%2F%2Fsvc.example%2Fapp", got.LoginURL)
	assert.Nil(t, got.Identity)
	assert.Nil(t, got.Failure)
	assert.Equal(t, site.SchoolName, got.SchoolName)

	p.AssertNotCalled(t, "Verify", mock.Anything)
	s.AssertNotCalled(t, "Get", mock.Anything)
	s.AssertNotCalled(t, "Create", mock.Anything)
	l.AssertNotCalled(t, "Lookup", mock.Anything)
}

func TestHandle_UnknownModeFallsThroughToLanding(t *testing.T) {
	p, s, l := &providerMock{}, &storeMock{}, &lookupMock{}
	c := newController(p, s, l, policy.Policy{})

	got := c.Handle(context.Background(), url.Values{"openid.mode": {"cancel"}})

	assert.Equal(t, ViewLanding, got.View)
	p.AssertNotCalled(t, "Verify", mock.Anything)
}

func TestHandle_ValidCallbackCreatesSessionAndAggregates(t *testing.T) {
	p, s := &providerMock{}, &storeMock{}
	params := callback("alice@school.org", "台北市立X國小")
	p.On("Verify", params).Return(true)
	s.On("Create", mock.AnythingOfType("auth.Identity")).Return("tok-1", nil)

	catalog := records.MemoryCatalog{
		&records.Table{TableName: "Grades", Data: [][]any{{"id", "math"}, {"alice", 95}}},
		&records.Table{TableName: "Attendance", Data: [][]any{{"id", "absent"}, {"Alice", 2}}},
		&records.Table{TableName: "Health", Data: [][]any{{"id", "height"}, {"alice", 150}}},
	}
	agg := records.NewAggregator(catalog, []string{"Health"})

	c := newController(p, s, agg, policy.Policy{Enabled: true, Keyword: "北市"})
	got := c.Handle(context.Background(), params)

	require.Equal(t, ViewAuthenticated, got.View)
	require.NotNil(t, got.Identity)
	assert.Equal(t, "alice@school.org", got.Identity.Email)
	assert.Equal(t, "台北市立X國小", got.Identity.Affiliation)
	assert.Equal(t, "tok-1", got.Token)
	require.NotNil(t, got.Session)
	assert.Equal(t, session.TTL, got.Session.ExpiresAt.Sub(got.Session.CreatedAt))

	require.NotNil(t, got.Records)
	assert.Len(t, got.Records, 2)
	assert.Contains(t, got.Records, "Grades")
	assert.Contains(t, got.Records, "Attendance")
	assert.NotContains(t, got.Records, "Health")

	s.AssertNumberOfCalls(t, "Create", 1)
	created := s.Calls[0].Arguments.Get(0).(auth.Identity)
	assert.Equal(t, "alice", created.LookupKey())
}

func TestHandle_VerificationFailed(t *testing.T) {
	p, s, l := &providerMock{}, &storeMock{}, &lookupMock{}
	params := callback("alice@school.org", "台北市立X國小")
	p.On("Verify", params).Return(false)

	c := newController(p, s, l, policy.Policy{})
	got := c.Handle(context.Background(), params)

	assert.Equal(t, ViewFailure, got.View)
	require.NotNil(t, got.Failure)
	assert.Equal(t, VerificationFailed, got.Failure.Kind)
	assert.Nil(t, got.Identity)
	assert.Empty(t, got.Token)

	s.AssertNotCalled(t, "Create", mock.Anything)
	l.AssertNotCalled(t, "Lookup", mock.Anything)
}

func TestHandle_AccessDeniedEchoesAffiliation(t *testing.T) {
	p, s, l := &providerMock{}, &storeMock{}, &lookupMock{}
	params := callback("bob@other.org", "桃園市立Z國小")
	p.On("Verify", params).Return(true)

	access := policy.Policy{Enabled: true, Keyword: "台北市", ErrorMessage: "本系統僅限本校教職員使用。"}
	c := newController(p, s, l, access)
	got := c.Handle(context.Background(), params)

	assert.Equal(t, ViewFailure, got.View)
	require.NotNil(t, got.Failure)
	assert.Equal(t, AccessDenied, got.Failure.Kind)
	assert.Equal(t, "本系統僅限本校教職員使用。", got.Failure.Message)
	assert.Equal(t, "桃園市立Z國小", got.Failure.Affiliation)
	assert.NotEmpty(t, got.LoginURL)

	s.AssertNotCalled(t, "Create", mock.Anything)
	l.AssertNotCalled(t, "Lookup", mock.Anything)
}

type plainChecker struct{}

func (plainChecker) Check(auth.Identity) error { return errors.New("blocked") }

func TestHandle_AccessDeniedByPlainError(t *testing.T) {
	p, s, l := &providerMock{}, &storeMock{}, &lookupMock{}
	params := callback("bob@other.org", "Somewhere")
	p.On("Verify", params).Return(true)

	got := newController(p, s, l, plainChecker{}).Handle(context.Background(), params)

	require.NotNil(t, got.Failure)
	assert.Equal(t, AccessDenied, got.Failure.Kind)
	assert.Equal(t, "blocked", got.Failure.Message)
	assert.Equal(t, "Somewhere", got.Failure.Affiliation)
}

func TestHandle_SessionCreateFails(t *testing.T) {
	p, s, l := &providerMock{}, &storeMock{}, &lookupMock{}
	params := callback("alice@school.org", "台北市立X國小")
	p.On("Verify", params).Return(true)
	s.On("Create", mock.Anything).Return("", errors.New("redis down"))

	got := newController(p, s, l, policy.Policy{}).Handle(context.Background(), params)

	require.NotNil(t, got.Failure)
	assert.Equal(t, SessionUnavailable, got.Failure.Kind)
	l.AssertNotCalled(t, "Lookup", mock.Anything)
}

func TestHandle_TokenFastPath(t *testing.T) {
	p, s, l := &providerMock{}, &storeMock{}, &lookupMock{}
	identity := auth.Identity{FullName: "Alice", Email: "Alice@school.org"}
	s.On("Get", "tok-1").Return(&session.Session{Token: "tok-1", Identity: identity}, nil)
	found := records.Records{"Grades": records.Record{{Name: "id", Value: "alice"}}}
	l.On("Lookup", "Alice").Return(found)

	// Callback markers are ignored when the token resolves.
	params := callback("mallory@evil.org", "x")
	params.Set("token", "tok-1")

	got := newController(p, s, l, policy.Policy{}).Handle(context.Background(), params)

	assert.Equal(t, ViewAuthenticated, got.View)
	assert.Equal(t, "tok-1", got.Token)
	assert.Equal(t, identity, *got.Identity)
	assert.Equal(t, found, got.Records)
	p.AssertNotCalled(t, "Verify", mock.Anything)
	s.AssertNotCalled(t, "Create", mock.Anything)
}

func TestHandle_NoRecordsIsNil(t *testing.T) {
	p, s, l := &providerMock{}, &storeMock{}, &lookupMock{}
	s.On("Get", "tok-1").Return(&session.Session{Token: "tok-1", Identity: auth.Identity{Email: "zed@x"}}, nil)
	l.On("Lookup", "zed").Return(nil)

	got := newController(p, s, l, policy.Policy{}).Handle(context.Background(), url.Values{"token": {"tok-1"}})

	assert.Equal(t, ViewAuthenticated, got.View)
	assert.Nil(t, got.Records)
}

func TestHandle_StaleTokenFallsThrough(t *testing.T) {
	p, s, l := &providerMock{}, &storeMock{}, &lookupMock{}
	s.On("Get", "gone").Return(nil, nil)
	s.On("Get", "broken").Return(nil, errors.New("redis down"))

	c := newController(p, s, l, policy.Policy{})

	got := c.Handle(context.Background(), url.Values{"token": {"gone"}})
	assert.Equal(t, ViewLanding, got.View)

	got = c.Handle(context.Background(), url.Values{"token": {"broken"}})
	assert.Equal(t, ViewLanding, got.View)

	// A stale token with a callback still runs the callback.
	params := callback("alice@school.org", "台北市立X國小")
	params.Set("token", "gone")
	p.On("Verify", params).Return(false)
	got = c.Handle(context.Background(), params)
	require.NotNil(t, got.Failure)
	assert.Equal(t, VerificationFailed, got.Failure.Kind)

	l.AssertNotCalled(t, "Lookup", mock.Anything)
}

func TestHandle_NoBaseURLGivesPlaceholderLink(t *testing.T) {
	p, s, l := &providerMock{}, &storeMock{}, &lookupMock{}
	c := NewController(&noBaseProvider{p}, s, policy.Policy{}, l, Site{})

	got := c.Handle(context.Background(), url.Values{})
	assert.Equal(t, "#", got.LoginURL)
}

type noBaseProvider struct{ *providerMock }

func (n *noBaseProvider) LoginURL(returnTo string) string {
	if returnTo == "" {
		return "#"
	}
	return n.providerMock.LoginURL(returnTo)
}
