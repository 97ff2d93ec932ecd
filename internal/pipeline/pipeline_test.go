package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-sync/internal/model"
	"github.com/capitalize-ai/chat-sync/internal/responder"
	"github.com/capitalize-ai/chat-sync/internal/store"
	"github.com/capitalize-ai/chat-sync/pkg/logger"
)

type writtenMessage struct {
	Content string
	Author  model.AuthorKind
}

// fakeWriter records create-message calls and can fail or stall on demand.
type fakeWriter struct {
	mu       sync.Mutex
	written  []writtenMessage
	failOn   map[int]error // 1-based call index -> error
	delay    time.Duration
	seq      int
	complete atomic.Int32 // calls fully finished
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{failOn: make(map[int]error)}
}

func (w *fakeWriter) CreateMessage(ctx context.Context, tenantID, conversationID, userID, content string, author model.AuthorKind) (*model.Message, error) {
	if w.delay > 0 {
		time.Sleep(w.delay)
	}

	w.mu.Lock()
	w.seq++
	call := w.seq
	if err, ok := w.failOn[call]; ok {
		w.mu.Unlock()
		return nil, &store.WriteError{Op: "message", Err: err}
	}
	w.written = append(w.written, writtenMessage{Content: content, Author: author})
	msg := &model.Message{
		ID:             "m" + string(rune('0'+call)),
		ConversationID: conversationID,
		TenantID:       tenantID,
		UserID:         userID,
		Author:         author,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	w.mu.Unlock()

	w.complete.Add(1)
	return msg, nil
}

func (w *fakeWriter) messages() []writtenMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]writtenMessage, len(w.written))
	copy(out, w.written)
	return out
}

// fakeResponder returns a scripted result and records when it was invoked.
type fakeResponder struct {
	result *responder.Result
	err    error

	invoked          atomic.Int32
	writesAtInvoke   atomic.Int32
	onInvokeObserved func()
}

func (r *fakeResponder) Invoke(ctx context.Context, conversationID, text string) (*responder.Result, error) {
	r.invoked.Add(1)
	if r.onInvokeObserved != nil {
		r.onInvokeObserved()
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

func newPipeline(w MessageWriter, r responder.Responder, cfg Config) *Pipeline {
	return New(w, r, cfg, logger.NewNop())
}

func TestSendNoopOnEmptyInput(t *testing.T) {
	writer := newFakeWriter()
	resp := &fakeResponder{result: &responder.Result{Success: true, ReplyText: "hi"}}
	p := newPipeline(writer, resp, Config{})

	for _, text := range []string{"", "   ", "\n\t"} {
		res := p.Send(context.Background(), "t1", "conv-1", "u1", text)
		require.Equal(t, OutcomeNoop, res.Outcome)
	}
	require.Empty(t, writer.messages())
	require.Zero(t, resp.invoked.Load())
}

func TestSendHappyPath(t *testing.T) {
	writer := newFakeWriter()
	resp := &fakeResponder{result: &responder.Result{Success: true, ReplyText: "hi there"}}
	p := newPipeline(writer, resp, Config{})

	res := p.Send(context.Background(), "t1", "conv-1", "u1", "hello")

	require.Equal(t, OutcomeDone, res.Outcome)
	require.NoError(t, res.Err)
	require.NotNil(t, res.UserMessage)
	require.NotNil(t, res.Reply)

	require.Equal(t, model.AuthorHuman, res.UserMessage.Author)
	require.Equal(t, "hello", res.UserMessage.Content)
	require.Equal(t, model.AuthorAssistant, res.Reply.Author)
	require.Equal(t, "hi there", res.Reply.Content)
	require.False(t, res.Reply.CreatedAt.Before(res.UserMessage.CreatedAt),
		"reply timestamp must not precede the user message")

	require.Equal(t, []writtenMessage{
		{Content: "hello", Author: model.AuthorHuman},
		{Content: "hi there", Author: model.AuthorAssistant},
	}, writer.messages())
}

func TestSendUserWriteFailure(t *testing.T) {
	writer := newFakeWriter()
	writer.failOn[1] = errors.New("network down")
	resp := &fakeResponder{result: &responder.Result{Success: true, ReplyText: "hi"}}
	p := newPipeline(writer, resp, Config{})

	res := p.Send(context.Background(), "t1", "conv-1", "u1", "hello")

	require.Equal(t, OutcomeFailedUserWrite, res.Outcome)
	var werr *store.WriteError
	require.ErrorAs(t, res.Err, &werr)
	require.Nil(t, res.UserMessage)
	require.Zero(t, resp.invoked.Load(), "responder must not run when the user write failed")
	require.Empty(t, writer.messages())
}

func TestSendResponderTransportFailure(t *testing.T) {
	writer := newFakeWriter()
	resp := &fakeResponder{err: &responder.TransportError{Err: errors.New("timeout")}}
	p := newPipeline(writer, resp, Config{})

	res := p.Send(context.Background(), "t1", "conv-1", "u1", "hello")

	require.Equal(t, OutcomeFailedResponder, res.Outcome)
	var terr *responder.TransportError
	require.ErrorAs(t, res.Err, &terr)
	require.NotNil(t, res.UserMessage, "user message stays written")

	// No reply message is ever created.
	msgs := writer.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, model.AuthorHuman, msgs[0].Author)
}

func TestSendResponderRejected(t *testing.T) {
	writer := newFakeWriter()
	resp := &fakeResponder{result: &responder.Result{Success: false, ErrorMessage: "quota exceeded"}}
	p := newPipeline(writer, resp, Config{})

	res := p.Send(context.Background(), "t1", "conv-1", "u1", "hello")

	require.Equal(t, OutcomeResponderRejected, res.Outcome)
	var rerr *RejectedError
	require.ErrorAs(t, res.Err, &rerr)
	require.Contains(t, rerr.Error(), "quota exceeded")
	require.Len(t, writer.messages(), 1)
}

func TestSendInvalidReply(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{name: "empty reply", reply: ""},
		{name: "whitespace reply", reply: "   \n"},
		{name: "unresolved template array form", reply: "{{ $json[0].choices[0].message.content }}"},
		{name: "unresolved template object form", reply: "{{ $json.choices[0].message.content }}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer := newFakeWriter()
			resp := &fakeResponder{result: &responder.Result{Success: true, ReplyText: tt.reply}}
			p := newPipeline(writer, resp, Config{})

			res := p.Send(context.Background(), "t1", "conv-1", "u1", "hello")

			require.Equal(t, OutcomeInvalidReply, res.Outcome)
			var ierr *InvalidReplyError
			require.ErrorAs(t, res.Err, &ierr)
			require.Len(t, writer.messages(), 1, "no reply message may be written")
		})
	}
}

func TestSendCustomSentinels(t *testing.T) {
	writer := newFakeWriter()
	resp := &fakeResponder{result: &responder.Result{Success: true, ReplyText: "ERROR: no output"}}
	p := newPipeline(writer, resp, Config{Sentinels: []string{"ERROR: no output"}})

	res := p.Send(context.Background(), "t1", "conv-1", "u1", "hello")
	require.Equal(t, OutcomeInvalidReply, res.Outcome)

	// The default sentinels are replaced, not extended: the known template
	// literal now passes validation.
	writer2 := newFakeWriter()
	resp2 := &fakeResponder{result: &responder.Result{Success: true, ReplyText: DefaultSentinels[0]}}
	p2 := newPipeline(writer2, resp2, Config{Sentinels: []string{"ERROR: no output"}})

	res2 := p2.Send(context.Background(), "t1", "conv-1", "u1", "hello")
	require.Equal(t, OutcomeDone, res2.Outcome)
}

func TestSendReplyWriteFailure(t *testing.T) {
	writer := newFakeWriter()
	writer.failOn[2] = errors.New("disk full")
	resp := &fakeResponder{result: &responder.Result{Success: true, ReplyText: "hi there"}}
	p := newPipeline(writer, resp, Config{})

	res := p.Send(context.Background(), "t1", "conv-1", "u1", "hello")

	// Distinct from "no reply produced": the reply existed but was not saved.
	require.Equal(t, OutcomeFailedReplyWrite, res.Outcome)
	require.NotNil(t, res.UserMessage)
	require.Nil(t, res.Reply)
	require.Len(t, writer.messages(), 1)
}

func TestWriteCompletesBeforeInvoke(t *testing.T) {
	writer := newFakeWriter()
	writer.delay = 50 * time.Millisecond

	resp := &fakeResponder{result: &responder.Result{Success: true, ReplyText: "hi"}}
	resp.onInvokeObserved = func() {
		resp.writesAtInvoke.Store(writer.complete.Load())
	}
	p := newPipeline(writer, resp, Config{})

	res := p.Send(context.Background(), "t1", "conv-1", "u1", "hello")

	require.Equal(t, OutcomeDone, res.Outcome)
	require.Equal(t, int32(1), resp.invoked.Load())
	require.GreaterOrEqual(t, resp.writesAtInvoke.Load(), int32(1),
		"responder invoked before the user write resolved")
}

func TestUserMessageWrittenHook(t *testing.T) {
	writer := newFakeWriter()
	resp := &fakeResponder{err: &responder.TransportError{Err: errors.New("down")}}

	var hookOrder []string
	resp.onInvokeObserved = func() {
		hookOrder = append(hookOrder, "invoke")
	}
	p := newPipeline(writer, resp, Config{
		OnUserMessageWritten: func(msg *model.Message) {
			hookOrder = append(hookOrder, "written:"+msg.Content)
		},
	})

	res := p.Send(context.Background(), "t1", "conv-1", "u1", "hello")

	// The hook fires after the user write and before the responder, and it
	// fires even though the invocation later failed.
	require.Equal(t, OutcomeFailedResponder, res.Outcome)
	require.Equal(t, []string{"written:hello", "invoke"}, hookOrder)
}

func TestSendTrimsSubmittedText(t *testing.T) {
	writer := newFakeWriter()
	resp := &fakeResponder{result: &responder.Result{Success: true, ReplyText: "hi"}}
	p := newPipeline(writer, resp, Config{})

	res := p.Send(context.Background(), "t1", "conv-1", "u1", "  hello  ")

	require.Equal(t, OutcomeDone, res.Outcome)
	require.Equal(t, "hello", writer.messages()[0].Content)
}
