package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-sync/internal/model"
	"github.com/capitalize-ai/chat-sync/internal/pipeline"
	"github.com/capitalize-ai/chat-sync/internal/responder"
	"github.com/capitalize-ai/chat-sync/internal/store"
	"github.com/capitalize-ai/chat-sync/internal/timeline"
	"github.com/capitalize-ai/chat-sync/pkg/logger"
)

// gatedResponder blocks each invocation until released.
type gatedResponder struct {
	gate  chan struct{}
	reply string
}

func (r *gatedResponder) Invoke(ctx context.Context, conversationID, text string) (*responder.Result, error) {
	select {
	case <-r.gate:
	case <-ctx.Done():
		return nil, &responder.TransportError{Err: ctx.Err()}
	}
	return &responder.Result{Success: true, ReplyText: r.reply}, nil
}

type fixture struct {
	store   *store.MemoryStore
	session *Session
	convA   *model.Conversation
	convB   *model.Conversation
}

func newFixture(t *testing.T, resp responder.Responder) *fixture {
	t.Helper()
	ctx := context.Background()
	log := logger.NewNop()

	st := store.NewMemoryStore()
	convA, err := st.CreateConversation(ctx, "tenant-1", "user-1", "A")
	require.NoError(t, err)
	convB, err := st.CreateConversation(ctx, "tenant-1", "user-1", "B")
	require.NoError(t, err)

	merger := timeline.NewMerger(st, log)
	pipe := pipeline.New(st, resp, pipeline.Config{}, log)

	return &fixture{
		store:   st,
		session: New(merger, pipe, "tenant-1", "user-1", log),
		convA:   convA,
		convB:   convB,
	}
}

func awaitState(t *testing.T, a *timeline.Activation, cond func(timeline.State) bool) timeline.State {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s, ok := <-a.States():
			require.True(t, ok, "states channel closed before condition held")
			if cond(s) {
				return s
			}
		case <-deadline:
			t.Fatal("timed out waiting for timeline state")
		}
	}
}

func TestSendWithoutOpenConversation(t *testing.T) {
	f := newFixture(t, &gatedResponder{gate: make(chan struct{}), reply: "hi"})

	_, err := f.session.Send(context.Background(), "hello")
	require.ErrorIs(t, err, ErrNoConversation)
}

func TestOpenClosesPreviousActivation(t *testing.T) {
	f := newFixture(t, &gatedResponder{gate: make(chan struct{}), reply: "hi"})
	ctx := context.Background()

	a := f.session.Open(ctx, f.convA.ID)
	awaitState(t, a, func(s timeline.State) bool { return s.Loaded })

	f.session.Open(ctx, f.convB.ID)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-a.States():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("previous activation did not close on switch")
		}
	}
}

func TestConversationIsolationOnSwitch(t *testing.T) {
	resp := &gatedResponder{gate: make(chan struct{}), reply: "late reply"}
	f := newFixture(t, resp)
	ctx := context.Background()

	// Open A and start a send that parks inside the responder.
	f.session.Open(ctx, f.convA.ID)
	results, err := f.session.Send(ctx, "hello")
	require.NoError(t, err)

	// Switch to B before the invocation resolves.
	b := f.session.Open(ctx, f.convB.ID)
	awaitState(t, b, func(s timeline.State) bool { return s.Loaded })

	// Let A's invocation run to completion; its writes are A-scoped and
	// stay valid.
	close(resp.gate)

	// The terminal status is suppressed: the channel closes without a
	// result because A is no longer open.
	select {
	case res, ok := <-results:
		require.False(t, ok, "expected suppressed result, got %+v", res)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for send resolution")
	}

	// A's messages really did land.
	msgs, err := f.store.FetchMessages(ctx, "tenant-1", f.convA.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	// B's timeline never shows them.
	require.Never(t, func() bool {
		select {
		case s, ok := <-b.States():
			return ok && len(s.Messages) > 0
		default:
			return false
		}
	}, 500*time.Millisecond, 50*time.Millisecond, "conversation B rendered messages from A")

	// Reopening A shows the full exchange.
	a := f.session.Open(ctx, f.convA.ID)
	s := awaitState(t, a, func(s timeline.State) bool { return len(s.Messages) == 2 })
	require.Equal(t, "hello", s.Messages[0].Content)
	require.Equal(t, model.AuthorHuman, s.Messages[0].Author)
	require.Equal(t, "late reply", s.Messages[1].Content)
	require.Equal(t, model.AuthorAssistant, s.Messages[1].Author)
}

func TestSendResultDeliveredWhileStillOpen(t *testing.T) {
	resp := &gatedResponder{gate: make(chan struct{}), reply: "hi there"}
	f := newFixture(t, resp)
	ctx := context.Background()

	a := f.session.Open(ctx, f.convA.ID)
	results, err := f.session.Send(ctx, "hello")
	require.NoError(t, err)
	close(resp.gate)

	select {
	case res, ok := <-results:
		require.True(t, ok, "result should be delivered while the conversation is open")
		require.Equal(t, pipeline.OutcomeDone, res.Outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for send result")
	}

	// The reply surfaces through the live feed, not the send return path.
	s := awaitState(t, a, func(s timeline.State) bool { return len(s.Messages) == 2 && s.Live })
	require.Equal(t, "hi there", s.Messages[1].Content)
}
