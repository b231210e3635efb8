package askuser

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
)

func TestAsk(t *testing.T) {
	b := broker.New()
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	svc := NewService(decisions.NewRequester(b, nil, nil), broker.CreateOptions{NoExpiry: true})

	type outcome struct {
		resp *domain.AskUserResponse
		err  error
	}
	out := make(chan outcome, 1)
	go func() {
		resp, err := svc.Ask(context.Background(), "c1", []domain.Question{
			{Question: "Which region?", Options: []domain.QuestionOption{{Label: "us"}, {Label: "eu"}}},
		})
		out <- outcome{resp, err}
	}()

	var in *domain.Interaction
	require.Eventually(t, func() bool {
		p := b.Pending("c1")
		if len(p) == 0 {
			return false
		}
		in = p[0]
		return true
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, in.HasExpiry())

	// A payload without answers is refused and the question stays open.
	err := b.Resolve(context.Background(), in.ID, json.RawMessage(`{}`), "c1")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Equal(t, 1, b.PendingCount("c1"))

	require.NoError(t, b.Resolve(context.Background(), in.ID,
		json.RawMessage(`{"answers":{"Which region?":["eu"]}}`), "c1"))

	res := <-out
	require.NoError(t, res.err)
	assert.Equal(t, []string{"eu"}, res.resp.Answers["Which region?"])
}

func TestAskCancelled(t *testing.T) {
	b := broker.New()
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	svc := NewService(decisions.NewRequester(b, nil, nil), broker.CreateOptions{NoExpiry: true})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := svc.Ask(ctx, "c1", []domain.Question{{Question: "Proceed?"}})
		errc <- err
	}()

	require.Eventually(t, func() bool { return b.PendingCount("c1") == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, domain.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("Ask did not return after cancellation")
	}
	assert.Zero(t, b.PendingCount("c1"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		questions []domain.Question
		wantErr   bool
	}{
		{"none", nil, true},
		{"empty text", []domain.Question{{Question: " "}}, true},
		{"duplicate", []domain.Question{{Question: "a"}, {Question: "a"}}, true},
		{"multi select without options", []domain.Question{{Question: "a", MultiSelect: true}}, true},
		{"ok", []domain.Question{{Question: "a"}, {Question: "b", Options: []domain.QuestionOption{{Label: "x"}}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(tt.questions)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidRequest)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
