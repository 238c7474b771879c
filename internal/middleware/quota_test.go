package middleware_test

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"mime/multipart"
	"net/url"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/serroba/driftquota/internal/middleware"
	"github.com/serroba/driftquota/internal/quota"
	"github.com/serroba/driftquota/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testHostAddr  = "192.168.1.1:12345"
	testUserAgent = "TestAgent/1.0"
)

var errMultipartNotSupported = errors.New("multipart not supported in mock")

func newTestAPI() huma.API {
	return humachi.New(chi.NewMux(), huma.DefaultConfig("Test", "1.0.0"))
}

// mockHumaContext implements huma.Context for testing.
type mockHumaContext struct {
	headers         map[string]string
	responseHeaders map[string]string
	host            string
	written         []byte
	statusCode      int
	operation       *huma.Operation
}

func newMockHumaContext() *mockHumaContext {
	return &mockHumaContext{
		headers:         map[string]string{"User-Agent": testUserAgent},
		responseHeaders: make(map[string]string),
		host:            testHostAddr,
	}
}

func (m *mockHumaContext) Operation() *huma.Operation              { return m.operation }
func (m *mockHumaContext) Context() context.Context                { return context.Background() }
func (m *mockHumaContext) TLS() *tls.ConnectionState               { return nil }
func (m *mockHumaContext) Version() huma.ProtoVersion              { return huma.ProtoVersion{} }
func (m *mockHumaContext) Method() string                          { return "GET" }
func (m *mockHumaContext) Host() string                            { return m.host }
func (m *mockHumaContext) RemoteAddr() string                      { return m.host }
func (m *mockHumaContext) URL() url.URL                            { return url.URL{} }
func (m *mockHumaContext) Param(_ string) string                   { return "" }
func (m *mockHumaContext) Query(_ string) string                   { return "" }
func (m *mockHumaContext) Header(name string) string               { return m.headers[name] }
func (m *mockHumaContext) EachHeader(_ func(name, value string))   {}
func (m *mockHumaContext) BodyReader() io.Reader                   { return nil }
func (m *mockHumaContext) SetReadDeadline(_ time.Time) error       { return nil }
func (m *mockHumaContext) SetStatus(code int)                      { m.statusCode = code }
func (m *mockHumaContext) Status() int                             { return m.statusCode }
func (m *mockHumaContext) AppendHeader(_, _ string)                {}
func (m *mockHumaContext) SetHeader(name, value string)            { m.responseHeaders[name] = value }
func (m *mockHumaContext) BodyWriter() io.Writer                   { return &mockBodyWriter{ctx: m} }
func (m *mockHumaContext) GetMultipartForm() (*multipart.Form, error) {
	return nil, errMultipartNotSupported
}

type mockBodyWriter struct {
	ctx *mockHumaContext
}

func (w *mockBodyWriter) Write(p []byte) (n int, err error) {
	w.ctx.written = append(w.ctx.written, p...)

	return len(p), nil
}

// capturingSource records the subject of every lookup.
type capturingSource struct {
	tracker  *quota.Tracker
	subjects []string
	err      error
}

func (c *capturingSource) ForAction(action string, subject any) (*quota.Limit, error) {
	c.subjects = append(c.subjects, subject.(string))

	if c.err != nil {
		return nil, c.err
	}

	return c.tracker.ForAction(action, subject)
}

func newTracker(t *testing.T, rules map[string]quota.Rule) *quota.Tracker {
	t.Helper()

	policy, err := quota.NewPolicy(rules)
	require.NoError(t, err)

	return quota.NewTracker(store.NewQuotaMemoryStore(nil), quota.WithPolicy(policy))
}

func serve(mw func(huma.Context, func(huma.Context)), ctx *mockHumaContext) bool {
	called := false

	mw(ctx, func(_ huma.Context) { called = true })

	return called
}

func TestQuota(t *testing.T) {
	rules := map[string]quota.Rule{
		"api":    {Max: 2, Period: time.Minute},
		"upload": {Max: 5, Period: time.Hour},
	}

	t.Run("allows requests under the limit", func(t *testing.T) {
		mw := middleware.Quota(newTestAPI(), newTracker(t, rules), "api", zap.NewNop())
		ctx := newMockHumaContext()

		assert.True(t, serve(mw, ctx))
		assert.Equal(t, "2", ctx.responseHeaders["X-RateLimit-Limit"])
	})

	t.Run("returns 429 once the limit is reached", func(t *testing.T) {
		mw := middleware.Quota(newTestAPI(), newTracker(t, rules), "api", zap.NewNop())

		assert.True(t, serve(mw, newMockHumaContext()))
		assert.True(t, serve(mw, newMockHumaContext()))

		ctx := newMockHumaContext()

		assert.False(t, serve(mw, ctx), "next should not be called when rate limited")
		assert.Equal(t, 429, ctx.statusCode)
		assert.Contains(t, string(ctx.written), "rate limit exceeded: api allows 2 per 1m0s")
	})

	t.Run("different clients have separate quotas", func(t *testing.T) {
		mw := middleware.Quota(newTestAPI(), newTracker(t, rules), "api", zap.NewNop())

		assert.True(t, serve(mw, newMockHumaContext()))
		assert.True(t, serve(mw, newMockHumaContext()))

		other := newMockHumaContext()
		other.headers["User-Agent"] = "DifferentAgent/2.0"

		assert.True(t, serve(mw, other))
	})

	t.Run("endpoint metadata overrides action and cost", func(t *testing.T) {
		mw := middleware.Quota(newTestAPI(), newTracker(t, rules), "api", zap.NewNop())

		op := &huma.Operation{Metadata: map[string]any{
			middleware.MetadataKey: middleware.EndpointQuota{Action: "upload", Cost: 3},
		}}

		first := newMockHumaContext()
		first.operation = op
		assert.True(t, serve(mw, first))
		assert.Equal(t, "5", first.responseHeaders["X-RateLimit-Limit"])

		second := newMockHumaContext()
		second.operation = op
		assert.False(t, serve(mw, second))
		assert.Equal(t, 429, second.statusCode)
	})

	t.Run("disabled endpoints skip the quota", func(t *testing.T) {
		source := &capturingSource{tracker: newTracker(t, rules)}
		mw := middleware.Quota(newTestAPI(), source, "api", zap.NewNop())

		ctx := newMockHumaContext()
		ctx.operation = &huma.Operation{Metadata: map[string]any{
			middleware.MetadataKey: middleware.EndpointQuota{Disabled: true},
		}}

		assert.True(t, serve(mw, ctx))
		assert.Empty(t, source.subjects)
	})

	t.Run("actions without a rule pass through", func(t *testing.T) {
		mw := middleware.Quota(newTestAPI(), newTracker(t, rules), "search", zap.NewNop())
		ctx := newMockHumaContext()

		assert.True(t, serve(mw, ctx))
		assert.Empty(t, ctx.responseHeaders)
	})

	t.Run("lookup errors return 500", func(t *testing.T) {
		source := &capturingSource{err: quota.ErrNoPolicy}
		mw := middleware.Quota(newTestAPI(), source, "api", zap.NewNop())
		ctx := newMockHumaContext()

		assert.False(t, serve(mw, ctx))
		assert.Equal(t, 500, ctx.statusCode)
	})
}

func TestQuota_ClientSubject(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		headers map[string]string
		want    string
	}{
		{name: "host with port", host: "192.168.1.1:12345", want: "192.168.1.1|" + testUserAgent},
		{name: "host without port", host: "192.168.1.1", want: "192.168.1.1|" + testUserAgent},
		{
			name:    "first X-Forwarded-For entry",
			host:    "10.0.0.1:12345",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.195, 70.41.3.18"},
			want:    "203.0.113.195|" + testUserAgent,
		},
		{
			name:    "X-Real-IP",
			host:    "10.0.0.1:12345",
			headers: map[string]string{"X-Real-IP": "203.0.113.100"},
			want:    "203.0.113.100|" + testUserAgent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &capturingSource{tracker: newTracker(t, map[string]quota.Rule{"api": {Max: 5, Period: time.Minute}})}
			mw := middleware.Quota(newTestAPI(), source, "api", zap.NewNop())

			ctx := newMockHumaContext()
			ctx.host = tt.host

			for k, v := range tt.headers {
				ctx.headers[k] = v
			}

			serve(mw, ctx)

			require.Len(t, source.subjects, 1)
			assert.Equal(t, tt.want, source.subjects[0])
		})
	}
}
