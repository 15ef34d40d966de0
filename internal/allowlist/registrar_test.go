package allowlist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/ballotgate/internal/security"
)

// --- モック定義 ---

type mockConnector struct {
	mu       sync.Mutex
	existsFn func(ctx context.Context, username string) bool
	appendFn func(ctx context.Context, username string) error
	appended []string
}

func (m *mockConnector) Exists(ctx context.Context, username string) bool {
	if m.existsFn != nil {
		return m.existsFn(ctx, username)
	}
	return false
}

func (m *mockConnector) Append(ctx context.Context, username string) error {
	m.mu.Lock()
	m.appended = append(m.appended, username)
	m.mu.Unlock()
	if m.appendFn != nil {
		return m.appendFn(ctx, username)
	}
	return nil
}

func (m *mockConnector) appendedNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.appended...)
}

var _ Connector = (*mockConnector)(nil)

func newTestRegistrar(c Connector, metrics OpRecorder) *Registrar {
	return NewRegistrar(c, security.NewUsernameSanitizer(), metrics, time.Second)
}

// --- テスト ---

func TestRegistrar_EnsureListed_AppendsWhenAbsent(t *testing.T) {
	conn := &mockConnector{}
	metrics := &recordedOps{}
	r := newTestRegistrar(conn, metrics)

	assert.True(t, r.EnsureListed(context.Background(), "alice"))
	assert.Equal(t, []string{"alice"}, conn.appendedNames())
	assert.Equal(t, []string{"append:ok"}, metrics.list())
}

func TestRegistrar_EnsureListed_SkipsWhenPresent(t *testing.T) {
	conn := &mockConnector{
		existsFn: func(ctx context.Context, username string) bool { return username == "alice" },
	}
	metrics := &recordedOps{}
	r := newTestRegistrar(conn, metrics)

	assert.False(t, r.EnsureListed(context.Background(), "alice"))
	assert.Empty(t, conn.appendedNames())
	assert.Equal(t, []string{"append:skipped"}, metrics.list())
}

func TestRegistrar_EnsureListed_AppendFailureIsSwallowed(t *testing.T) {
	conn := &mockConnector{
		appendFn: func(ctx context.Context, username string) error { return errors.New("quota exceeded") },
	}
	metrics := &recordedOps{}
	r := newTestRegistrar(conn, metrics)

	assert.False(t, r.EnsureListed(context.Background(), "alice"))
	assert.Equal(t, []string{"append:error"}, metrics.list())
}

func TestRegistrar_EnsureListed_SanitizesUsername(t *testing.T) {
	conn := &mockConnector{}
	r := newTestRegistrar(conn, nil)

	r.EnsureListed(context.Background(), "<b>alice</b>")
	assert.Equal(t, []string{"alice"}, conn.appendedNames())

	assert.False(t, r.EnsureListed(context.Background(), "<script>x</script>"))
	assert.Equal(t, []string{"alice"}, conn.appendedNames())
}

func TestRegistrar_EnsureListedAsync_DetachedFromCaller(t *testing.T) {
	var gotDeadline bool
	conn := &mockConnector{
		existsFn: func(ctx context.Context, username string) bool {
			_, gotDeadline = ctx.Deadline()
			return false
		},
	}
	r := newTestRegistrar(conn, nil)

	r.EnsureListedAsync("alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx))

	assert.True(t, gotDeadline, "background registration should carry its own timeout")
	assert.Equal(t, []string{"alice"}, conn.appendedNames())
}

func TestRegistrar_EnsureListedAsync_RecoversPanic(t *testing.T) {
	conn := &mockConnector{
		existsFn: func(ctx context.Context, username string) bool { panic("boom") },
	}
	r := newTestRegistrar(conn, nil)

	r.EnsureListedAsync("alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx))
}

func TestRegistrar_Wait_ContextExpires(t *testing.T) {
	release := make(chan struct{})
	conn := &mockConnector{
		existsFn: func(ctx context.Context, username string) bool {
			<-release
			return true
		},
	}
	r := newTestRegistrar(conn, nil)
	r.EnsureListedAsync("alice")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, r.Wait(context.Background()))
}

func TestNewRegistrar_DefaultTimeout(t *testing.T) {
	r := NewRegistrar(&mockConnector{}, security.NewUsernameSanitizer(), nil, 0)
	assert.Equal(t, DefaultTimeout, r.timeout)
}
