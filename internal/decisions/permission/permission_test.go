package permission

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/interaction-gateway/internal/broker"
	"github.com/tjfontaine/interaction-gateway/internal/core/domain"
	"github.com/tjfontaine/interaction-gateway/internal/decisions"
	"github.com/tjfontaine/interaction-gateway/internal/testutil"
)

type fixture struct {
	broker  *broker.Broker
	clock   *testutil.ManualClock
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := broker.New(broker.WithClock(clock))
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	svc := NewService(decisions.NewRequester(b, nil, nil), Config{
		Options: broker.CreateOptions{TTL: time.Minute},
	})
	return &fixture{broker: b, clock: clock, service: svc}
}

// ask runs RequestPermission in the background.
func (f *fixture) ask(t *testing.T, conv, tool, args string) <-chan *Result {
	out := make(chan *Result, 1)
	go func() {
		res, err := f.service.RequestPermission(context.Background(), conv, tool, json.RawMessage(args), "")
		if err != nil {
			t.Errorf("RequestPermission: %v", err)
			res = &Result{}
		}
		out <- res
	}()
	return out
}

func (f *fixture) awaitPending(t *testing.T, conv string) *domain.Interaction {
	t.Helper()
	var in *domain.Interaction
	require.Eventually(t, func() bool {
		p := f.broker.Pending(conv)
		if len(p) == 0 {
			return false
		}
		in = p[0]
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return in
}

func (f *fixture) decide(t *testing.T, conv string, d domain.PermissionDecision) *domain.Interaction {
	t.Helper()
	in := f.awaitPending(t, conv)
	payload, err := json.Marshal(domain.PermissionResponse{Decision: d})
	require.NoError(t, err)
	require.NoError(t, f.broker.Resolve(context.Background(), in.ID, payload, conv))
	return in
}

func TestAllowOnceIsNotRemembered(t *testing.T) {
	f := newFixture(t)

	out := f.ask(t, "c1", "bash", `{"cmd":"ls"}`)
	in := f.decide(t, "c1", domain.AllowOnce)
	res := <-out
	assert.True(t, res.Allowed)
	assert.False(t, res.Cached)
	assert.Equal(t, in.ID, res.InteractionID)

	req, ok := in.Request.(domain.PermissionRequest)
	require.True(t, ok)
	assert.Len(t, req.Fingerprint, 16)

	out = f.ask(t, "c1", "bash", `{"cmd":"ls"}`)
	f.decide(t, "c1", domain.Deny)
	res = <-out
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.Deny, res.Decision)
	assert.Empty(t, res.FailureCode)
}

func TestStickyDecisionsAreRemembered(t *testing.T) {
	tests := []struct {
		name     string
		decision domain.PermissionDecision
		allowed  bool
	}{
		{"always allow", domain.AlwaysAllow, true},
		{"always deny", domain.AlwaysDeny, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			out := f.ask(t, "c1", "bash", `{"cmd":"ls","dir":"/tmp"}`)
			f.decide(t, "c1", tt.decision)
			first := <-out
			assert.Equal(t, tt.allowed, first.Allowed)
			assert.False(t, first.Cached)

			// Key order does not matter.
			second, err := f.service.RequestPermission(context.Background(), "c1", "bash",
				json.RawMessage(`{"dir":"/tmp","cmd":"ls"}`), "")
			require.NoError(t, err)
			assert.True(t, second.Cached)
			assert.Equal(t, tt.allowed, second.Allowed)
			assert.Equal(t, tt.decision, second.Decision)
			assert.Zero(t, f.broker.PendingCount("c1"))
		})
	}
}

func TestCacheIsPerConversation(t *testing.T) {
	f := newFixture(t)

	out := f.ask(t, "c1", "bash", `{"cmd":"ls"}`)
	f.decide(t, "c1", domain.AlwaysAllow)
	<-out

	out = f.ask(t, "c2", "bash", `{"cmd":"ls"}`)
	f.decide(t, "c2", domain.Deny)
	res := <-out
	assert.False(t, res.Cached)
	assert.False(t, res.Allowed)
}

func TestTimeoutDeniesByDefault(t *testing.T) {
	f := newFixture(t)

	out := f.ask(t, "c1", "rm", `{"path":"/"}`)
	in := f.awaitPending(t, "c1")
	f.clock.Advance(time.Minute)

	res := <-out
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.CodeTimedOut, res.FailureCode)
	assert.Equal(t, in.ID, res.InteractionID)
}

func TestRejectDeniesByDefault(t *testing.T) {
	f := newFixture(t)

	out := f.ask(t, "c1", "rm", `{}`)
	in := f.awaitPending(t, "c1")
	require.NoError(t, f.broker.Reject(context.Background(), in.ID, "not now", "c1"))

	res := <-out
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.CodeRejected, res.FailureCode)
	assert.Equal(t, "not now", res.Reason)
}

func TestCapacityDeniesByDefault(t *testing.T) {
	clock := testutil.NewManualClock(time.Now())
	b := broker.New(broker.WithClock(clock), broker.WithMaxPending(1))
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	svc := NewService(decisions.NewRequester(b, nil, nil), Config{})

	_, err := b.Create(context.Background(), "c1", domain.AskUserRequest{
		Questions: []domain.Question{{Question: "?"}},
	}, broker.CreateOptions{})
	require.NoError(t, err)

	res, err := svc.RequestPermission(context.Background(), "c1", "bash", nil, "")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.CodeCapacityExceeded, res.FailureCode)
	assert.Empty(t, res.InteractionID)
}

func TestForget(t *testing.T) {
	f := newFixture(t)

	for _, conv := range []string{"c1", "c2"} {
		out := f.ask(t, conv, "bash", `{"cmd":"ls"}`)
		f.decide(t, conv, domain.AlwaysAllow)
		<-out
	}

	assert.Equal(t, 1, f.service.Forget("c1"))
	assert.Zero(t, f.service.Forget("c1"))

	res, err := f.service.RequestPermission(context.Background(), "c2", "bash", json.RawMessage(`{"cmd":"ls"}`), "")
	require.NoError(t, err)
	assert.True(t, res.Cached)

	out := f.ask(t, "c1", "bash", `{"cmd":"ls"}`)
	f.decide(t, "c1", domain.AllowOnce)
	assert.False(t, (<-out).Cached)
}

func TestRequestPermissionValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.RequestPermission(context.Background(), "c1", "", nil, "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = f.service.RequestPermission(context.Background(), "", "bash", nil, "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = f.service.RequestPermission(context.Background(), "c1", "bash", json.RawMessage(`{nope`), "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestFingerprint(t *testing.T) {
	a, err := Fingerprint("bash", json.RawMessage(`{"a":1,"b":[1,2]}`))
	require.NoError(t, err)
	b, err := Fingerprint("bash", json.RawMessage(`{ "b":[1,2], "a":1 }`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	c, err := Fingerprint("sh", json.RawMessage(`{"a":1,"b":[1,2]}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	empty, err := Fingerprint("bash", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, empty)
}
