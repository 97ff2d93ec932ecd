package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-sync/internal/model"
)

func replayMsg(id string, offset time.Duration) model.Message {
	return model.Message{
		ID:             id,
		ConversationID: "conv-1",
		Author:         model.AuthorHuman,
		Content:        "msg " + id,
		CreatedAt:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).Add(offset),
	}
}

func newReplayFeed(pending uint64) *natsFeed {
	return &natsFeed{
		conversationID: "conv-1",
		updates:        make(chan []model.Message, 16),
		errs:           make(chan error, 1),
		replay:         pending,
	}
}

func drainOne(t *testing.T, f *natsFeed) []model.Message {
	t.Helper()
	select {
	case full := <-f.updates:
		return full
	default:
		t.Fatal("expected an emission")
		return nil
	}
}

func requireNoEmission(t *testing.T, f *natsFeed) {
	t.Helper()
	select {
	case full := <-f.updates:
		t.Fatalf("unexpected emission of %d messages during replay", len(full))
	default:
	}
}

func TestNATSFeedHoldsEmissionsUntilReplayDrains(t *testing.T) {
	f := newReplayFeed(3)

	// The first two deliveries are history replay; a prefix of the
	// conversation must never go out as if it were the full set.
	f.append(replayMsg("m1", 0))
	requireNoEmission(t, f)
	f.append(replayMsg("m2", time.Second))
	requireNoEmission(t, f)

	// The third delivery completes the backlog and the full set emits.
	f.append(replayMsg("m3", 2*time.Second))
	full := drainOne(t, f)
	require.Len(t, full, 3)
	require.Equal(t, "m1", full[0].ID)
	require.Equal(t, "m3", full[2].ID)

	// Deliveries after catch-up emit the full current set each time.
	f.append(replayMsg("m4", 3*time.Second))
	full = drainOne(t, f)
	require.Len(t, full, 4)
	require.Equal(t, "m4", full[3].ID)
}

func TestNATSFeedEmptyBacklogEmitsImmediately(t *testing.T) {
	f := newReplayFeed(0)

	f.append(replayMsg("m1", 0))
	full := drainOne(t, f)
	require.Len(t, full, 1)
	require.Equal(t, "m1", full[0].ID)
}

func TestNATSFeedClosedDropsDeliveries(t *testing.T) {
	f := newReplayFeed(0)
	f.Close()

	f.append(replayMsg("m1", 0))

	_, ok := <-f.updates
	require.False(t, ok, "closed feed must not deliver updates")
}
