// Package timeline derives the single ordered message sequence for the open
// conversation from two independently-arriving sources: a one-shot snapshot
// fetch and a live feed. Once the live feed has delivered anything, it is
// authoritative; each emission already holds the full conversation state, so
// the merger replaces and resorts instead of accumulating.
package timeline

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-sync/internal/model"
	"github.com/capitalize-ai/chat-sync/internal/store"
	"github.com/capitalize-ai/chat-sync/pkg/logger"
	"github.com/capitalize-ai/chat-sync/pkg/metrics"
)

// Backend is the slice of the store the merger consumes.
type Backend interface {
	FetchMessages(ctx context.Context, tenantID, conversationID string) ([]model.Message, error)
	SubscribeMessages(ctx context.Context, tenantID, conversationID string) (store.Feed, error)
}

// State is one derived timeline. Messages is always sorted by creation time
// ascending (id as tie-break) and contains each id at most once.
type State struct {
	ConversationID string
	Messages       []model.Message

	// Live reports whether the live feed has delivered at least one
	// emission. Once true, snapshot results no longer alter Messages.
	Live bool

	// Loaded reports whether any source has completed. An empty timeline
	// with Loaded=true and Err=nil means "no messages yet".
	Loaded bool

	// Err is set when the snapshot fetch failed and no live data has
	// arrived: empty-with-error, distinct from empty-with-no-messages.
	Err error

	// FeedErr is set when the live subscription broke. The last good
	// Messages are retained; realtime delivery is degraded, not cleared.
	FeedErr error
}

// Merger builds timeline activations.
type Merger struct {
	backend Backend
	log     *logger.Logger
}

// NewMerger creates a merger over the given backend.
func NewMerger(backend Backend, log *logger.Logger) *Merger {
	return &Merger{backend: backend, log: log}
}

// Activation is one running merge for one conversation. Closing it cancels
// the snapshot fetch and the live subscription; a late-arriving emission
// for a closed activation is discarded, never delivered.
type Activation struct {
	conversationID string
	states         chan State
	cancel         context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Activate starts merging the given conversation. States are delivered on
// the returned activation's channel; the latest state supersedes all
// earlier ones, and slow consumers lose intermediate states, not the final
// one.
func (m *Merger) Activate(ctx context.Context, tenantID, conversationID string) *Activation {
	ctx, cancel := context.WithCancel(ctx)

	a := &Activation{
		conversationID: conversationID,
		states:         make(chan State, 16),
		cancel:         cancel,
	}

	metrics.TimelineActivations.Inc()
	go m.run(ctx, a, tenantID, conversationID)

	return a
}

// States delivers derived timelines. The channel is closed when the
// activation is closed or its context ends.
func (a *Activation) States() <-chan State { return a.states }

// ConversationID returns the conversation this activation follows.
func (a *Activation) ConversationID() string { return a.conversationID }

// Close tears the activation down.
func (a *Activation) Close() {
	a.cancel()
}

func (a *Activation) emit(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	for {
		select {
		case a.states <- s:
			metrics.TimelineEmissions.Inc()
			return
		default:
			select {
			case <-a.states:
			default:
			}
		}
	}
}

func (a *Activation) finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	close(a.states)
}

type snapshotResult struct {
	messages []model.Message
	err      error
}

func (m *Merger) run(ctx context.Context, a *Activation, tenantID, conversationID string) {
	defer metrics.TimelineActivations.Dec()
	defer a.finish()

	log := m.log.With(zap.String("conversation_id", conversationID))

	snapshotCh := make(chan snapshotResult, 1)
	go func() {
		msgs, err := m.backend.FetchMessages(ctx, tenantID, conversationID)
		select {
		case snapshotCh <- snapshotResult{messages: msgs, err: err}:
		case <-ctx.Done():
		}
	}()

	state := State{ConversationID: conversationID}

	var updates <-chan []model.Message
	var feedErrs <-chan error
	feed, err := m.backend.SubscribeMessages(ctx, tenantID, conversationID)
	if err != nil {
		log.Warn("live subscription failed, snapshot only", zap.Error(err))
		state.FeedErr = err
		metrics.FeedErrors.Inc()
	} else {
		defer feed.Close()
		updates = feed.Updates()
		feedErrs = feed.Errs()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case res := <-snapshotCh:
			snapshotCh = nil
			if state.Live {
				// Live data is already authoritative; the snapshot
				// result, success or failure, no longer matters.
				continue
			}
			if res.err != nil {
				log.Warn("snapshot fetch failed", zap.Error(res.err))
				state.Err = res.err
				state.Loaded = true
				a.emit(state)
				continue
			}
			state.Messages = Normalize(res.messages)
			state.Err = nil
			state.Loaded = true
			a.emit(state)

		case full, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			state.Messages = Normalize(full)
			state.Live = true
			state.Loaded = true
			state.Err = nil
			a.emit(state)

		case ferr, ok := <-feedErrs:
			if !ok {
				feedErrs = nil
				continue
			}
			log.Warn("live feed degraded", zap.Error(ferr))
			metrics.FeedErrors.Inc()
			state.FeedErr = ferr
			a.emit(state)
		}
	}
}

// Normalize sorts messages by creation time ascending with id as tie-break
// and removes duplicate ids, keeping the first occurrence. Sources are
// expected to be ordered already, but the live source's ordering is not
// guaranteed stable across emissions, so the sort is unconditional.
func Normalize(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	copy(out, msgs)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Less(out[j])
	})

	seen := make(map[string]struct{}, len(out))
	deduped := out[:0]
	for _, m := range out {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		deduped = append(deduped, m)
	}
	return deduped
}
