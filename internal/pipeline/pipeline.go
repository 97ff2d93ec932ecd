// Package pipeline orchestrates the message-send protocol: durably write
// the user's message, invoke the automated responder, validate its reply,
// and durably write the reply. Steps are strictly sequential within one
// invocation; the reply surfaces through the live feed the timeline merger
// is already watching, never through a return channel to the UI.
package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-sync/internal/model"
	"github.com/capitalize-ai/chat-sync/internal/responder"
	"github.com/capitalize-ai/chat-sync/pkg/logger"
	"github.com/capitalize-ai/chat-sync/pkg/metrics"
)

// DefaultSentinels are the known unresolved-template placeholders a broken
// responder pipeline can leak verbatim. Matching is exact.
var DefaultSentinels = []string{
	"{{ $json[0].choices[0].message.content }}",
	"{{ $json.choices[0].message.content }}",
}

// State is the pipeline's position within one invocation.
type State string

const (
	StateIdle               State = "idle"
	StateWritingUserMessage State = "writing_user_message"
	StateInvokingResponder  State = "invoking_responder"
	StateValidatingResponse State = "validating_response"
	StateWritingReply       State = "writing_reply"
)

// Outcome is the terminal result of one invocation. Every failure kind is
// distinguishable so the caller can phrase "message not sent", "AI did not
// respond", and "reply not saved" differently.
type Outcome string

const (
	// OutcomeNoop means the submission was empty after trimming and no
	// invocation started.
	OutcomeNoop Outcome = "noop"

	// OutcomeDone means both writes succeeded and the reply was valid.
	OutcomeDone Outcome = "done"

	// OutcomeFailedUserWrite means the user message was not persisted.
	// The caller should keep the input text so the user can retry.
	OutcomeFailedUserWrite Outcome = "failed_user_write"

	// OutcomeFailedResponder means the responder call failed at the
	// transport layer. No reply was written.
	OutcomeFailedResponder Outcome = "failed_responder"

	// OutcomeResponderRejected means the responder ran and explicitly
	// reported failure. No reply was written.
	OutcomeResponderRejected Outcome = "responder_rejected"

	// OutcomeInvalidReply means the reply text was empty or an
	// unresolved-template sentinel. No reply was written.
	OutcomeInvalidReply Outcome = "invalid_reply"

	// OutcomeFailedReplyWrite means a valid reply was generated but not
	// saved, distinct from "no reply produced".
	OutcomeFailedReplyWrite Outcome = "failed_reply_write"
)

// MessageWriter is the slice of the store the pipeline needs. The pipeline
// never reads the timeline; it only writes.
type MessageWriter interface {
	CreateMessage(ctx context.Context, tenantID, conversationID, userID, content string, author model.AuthorKind) (*model.Message, error)
}

// Result reports one invocation's terminal status.
type Result struct {
	Outcome Outcome

	// UserMessage is set once the user write succeeded, regardless of
	// what happened afterwards.
	UserMessage *model.Message

	// Reply is set only on OutcomeDone.
	Reply *model.Message

	// Err carries the underlying error for failed outcomes.
	Err error
}

// Config configures a pipeline.
type Config struct {
	// Sentinels overrides DefaultSentinels when non-nil.
	Sentinels []string

	// OnUserMessageWritten fires as soon as the user write succeeds, before
	// the responder is invoked. The UI clears its input field here so
	// responsiveness does not wait on the responder.
	OnUserMessageWritten func(msg *model.Message)
}

// Pipeline runs send invocations. Safe for concurrent use; each invocation
// carries its own state on the stack.
type Pipeline struct {
	writer    MessageWriter
	responder responder.Responder
	sentinels map[string]struct{}
	onWritten func(msg *model.Message)
	log       *logger.Logger
}

// New creates a pipeline over the given writer and responder.
func New(writer MessageWriter, resp responder.Responder, cfg Config, log *logger.Logger) *Pipeline {
	sentinels := cfg.Sentinels
	if sentinels == nil {
		sentinels = DefaultSentinels
	}
	set := make(map[string]struct{}, len(sentinels))
	for _, s := range sentinels {
		set[s] = struct{}{}
	}

	return &Pipeline{
		writer:    writer,
		responder: resp,
		sentinels: set,
		onWritten: cfg.OnUserMessageWritten,
		log:       log,
	}
}

// Send runs one full invocation and blocks until it reaches a terminal
// state. Callers that must not block run it in a goroutine; invocations for
// different conversations are independent.
func (p *Pipeline) Send(ctx context.Context, tenantID, conversationID, userID, text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Outcome: OutcomeNoop}
	}

	start := time.Now()
	log := p.log.With(zap.String("conversation_id", conversationID))
	res := p.send(ctx, log, tenantID, conversationID, userID, text)

	metrics.SendsTotal.WithLabelValues(string(res.Outcome)).Inc()
	metrics.SendDuration.WithLabelValues(string(res.Outcome)).Observe(time.Since(start).Seconds())

	if res.Err != nil {
		log.Warn("send finished", zap.String("outcome", string(res.Outcome)), zap.Error(res.Err))
	} else {
		log.Debug("send finished", zap.String("outcome", string(res.Outcome)))
	}
	return res
}

func (p *Pipeline) send(ctx context.Context, log *logger.Logger, tenantID, conversationID, userID, text string) Result {
	// WritingUserMessage: the human message must be durable before the
	// responder is ever invoked.
	log.Debug("pipeline state", zap.String("state", string(StateWritingUserMessage)))
	userMsg, err := p.writer.CreateMessage(ctx, tenantID, conversationID, userID, text, model.AuthorHuman)
	if err != nil {
		return Result{Outcome: OutcomeFailedUserWrite, Err: err}
	}

	if p.onWritten != nil {
		p.onWritten(userMsg)
	}

	// InvokingResponder: slow network round trip; failure past this point
	// never unwinds the user write.
	log.Debug("pipeline state", zap.String("state", string(StateInvokingResponder)))
	result, err := p.responder.Invoke(ctx, conversationID, text)
	if err != nil {
		return Result{Outcome: OutcomeFailedResponder, UserMessage: userMsg, Err: err}
	}
	if !result.Success {
		return Result{
			Outcome:     OutcomeResponderRejected,
			UserMessage: userMsg,
			Err:         &RejectedError{Message: result.ErrorMessage},
		}
	}

	// ValidatingResponse: reject empty replies and unresolved-template
	// sentinels before anything is persisted.
	log.Debug("pipeline state", zap.String("state", string(StateValidatingResponse)))
	if err := p.validate(result.ReplyText); err != nil {
		return Result{Outcome: OutcomeInvalidReply, UserMessage: userMsg, Err: err}
	}

	// WritingReply: persist the validated reply; it reaches the viewer via
	// the live feed.
	log.Debug("pipeline state", zap.String("state", string(StateWritingReply)))
	reply, err := p.writer.CreateMessage(ctx, tenantID, conversationID, "", result.ReplyText, model.AuthorAssistant)
	if err != nil {
		return Result{Outcome: OutcomeFailedReplyWrite, UserMessage: userMsg, Err: err}
	}

	return Result{Outcome: OutcomeDone, UserMessage: userMsg, Reply: reply}
}

func (p *Pipeline) validate(reply string) error {
	if strings.TrimSpace(reply) == "" {
		return &InvalidReplyError{Reason: "empty reply"}
	}
	if _, bad := p.sentinels[reply]; bad {
		return &InvalidReplyError{Reason: "unresolved template placeholder", Reply: reply}
	}
	return nil
}
