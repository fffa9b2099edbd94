// Package router drives one inbound marketplace message from the webhook to a
// delivered reply: verify, rate-check, classify, answer, remember, send, log.
package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/zhouzirui/shopbot/backend/internal/analysis/mood"
	"github.com/zhouzirui/shopbot/backend/internal/apperr"
	"github.com/zhouzirui/shopbot/backend/internal/logging"
	"github.com/zhouzirui/shopbot/backend/internal/model/conversation"
	"github.com/zhouzirui/shopbot/backend/internal/model/message"
	"github.com/zhouzirui/shopbot/backend/internal/model/msglog"
	"github.com/zhouzirui/shopbot/backend/internal/service/ai"
	"github.com/zhouzirui/shopbot/backend/internal/service/keyword"
)

// State is a step of the per-message pipeline.
type State string

const (
	StateReceived    State = "received"
	StateVerified    State = "verified"
	StateRateChecked State = "rate_checked"
	StateClassified  State = "classified"
	StateReplied     State = "replied"
	StateLogged      State = "logged"
	StateDropped     State = "dropped"
)

// Outcomes recorded in the message log.
const (
	OutcomeReceived       = "received"
	OutcomeSent           = "sent"
	OutcomeDeliveryFailed = "delivery_failed"
	OutcomeRateLimited    = "rate_limited"
	OutcomeAcknowledged   = "acknowledged"
	OutcomeIgnored        = "ignored"
	OutcomeSimulated      = "simulated"
)

// EventProcessed is published to operator dashboards after every message.
const EventProcessed = "message.processed"

// DefaultStickerAck is sent back for sticker messages.
const DefaultStickerAck = "收到您的訊息了！如有任何問題請直接輸入文字詢問，我會盡快為您解答。"

type Verifier interface {
	Verify(body []byte, signature string) bool
}

type Limiter interface {
	Allow(senderID string) bool
}

type Matcher interface {
	Match(ctx context.Context, text string) (keyword.Match, bool, error)
}

type Responder interface {
	Generate(ctx context.Context, senderID, text string, history []conversation.Entry) (string, error)
}

// TokenSource hands out the current shop access token without blocking on refresh.
type TokenSource interface {
	ValidToken(ctx context.Context) (string, error)
}

type Sender interface {
	Send(ctx context.Context, out message.Outbound, accessToken string) error
}

type Publisher interface {
	Publish(ctx context.Context, eventType string, data any) int
}

// Config tunes timeouts, retries and the worker pool.
type Config struct {
	AITimeout   time.Duration
	SendTimeout time.Duration
	SendRetries uint64
	SendBackoff time.Duration
	StickerAck  string
	Workers     int
	QueueSize   int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		AITimeout:   20 * time.Second,
		SendTimeout: 10 * time.Second,
		SendRetries: 3,
		SendBackoff: 500 * time.Millisecond,
		StickerAck:  DefaultStickerAck,
		Workers:     4,
		QueueSize:   256,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AITimeout <= 0 {
		c.AITimeout = d.AITimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.SendBackoff <= 0 {
		c.SendBackoff = d.SendBackoff
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	return c
}

// Deps are the collaborators the router drives. Matcher, Responder and
// Publisher may be nil.
type Deps struct {
	Verifier      Verifier
	Limiter       Limiter
	Matcher       Matcher
	Responder     Responder
	Conversations conversation.Store
	Tokens        TokenSource
	Sender        Sender
	Log           msglog.Store
	Publisher     Publisher
	Logger        logging.Logger
}

// Result describes how far a message got and what was sent back.
type Result struct {
	State   State           `json:"state"`
	Trail   []State         `json:"trail"`
	Message message.Inbound `json:"message"`
	Reply   string          `json:"reply,omitempty"`
	Source  msglog.Source   `json:"source,omitempty"`
	Mood    mood.Label      `json:"mood,omitempty"`
	Outcome string          `json:"outcome"`
	Err     error           `json:"-"`
}

func (r *Result) advance(s State) {
	r.State = s
	r.Trail = append(r.Trail, s)
}

// Stats are cumulative pipeline counters.
type Stats struct {
	Received       uint64 `json:"received"`
	Replied        uint64 `json:"replied"`
	Dropped        uint64 `json:"dropped"`
	DeliveryFailed uint64 `json:"deliveryFailed"`
	Fallbacks      uint64 `json:"fallbacks"`
	Queued         int    `json:"queued"`
}

// Router owns the message pipeline. Safe for concurrent use.
type Router struct {
	deps Deps
	cfg  Config
	log  logging.Logger
	now  func() time.Time

	queue   chan message.Inbound
	wg      sync.WaitGroup
	startMu sync.Mutex
	running bool
	stopped bool

	received       atomic.Uint64
	replied        atomic.Uint64
	dropped        atomic.Uint64
	deliveryFailed atomic.Uint64
	fallbacks      atomic.Uint64
}

type Option func(*Router)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// New returns a Router. Verifier, Limiter, Conversations, Tokens, Sender and Log are required.
func New(deps Deps, cfg Config, opts ...Option) (*Router, error) {
	switch {
	case deps.Verifier == nil:
		return nil, errors.New("router: verifier is required")
	case deps.Limiter == nil:
		return nil, errors.New("router: limiter is required")
	case deps.Conversations == nil:
		return nil, errors.New("router: conversation store is required")
	case deps.Tokens == nil:
		return nil, errors.New("router: token source is required")
	case deps.Sender == nil:
		return nil, errors.New("router: sender is required")
	case deps.Log == nil:
		return nil, errors.New("router: message log is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}

	cfg = cfg.withDefaults()
	r := &Router{
		deps:  deps,
		cfg:   cfg,
		log:   deps.Logger.With("component", "router"),
		now:   time.Now,
		queue: make(chan message.Inbound, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Ingest verifies and decodes a webhook body. It never mutates state: a
// message that fails verification or is ignored comes back Dropped.
// The returned error is a VerificationFailed apperr or a malformed payload.
func (r *Router) Ingest(ctx context.Context, body []byte, signature string) (Result, error) {
	res := Result{}
	res.advance(StateReceived)

	if !r.deps.Verifier.Verify(body, signature) {
		res.advance(StateDropped)
		res.Err = apperr.New(apperr.KindVerificationFailed, "signature", nil)
		r.log.Warn(ctx, "webhook signature rejected", "bytes", len(body))
		return res, res.Err
	}
	res.advance(StateVerified)

	p, err := parseEnvelope(body, r.now())
	if err != nil {
		res.advance(StateDropped)
		res.Err = err
		r.log.Warn(ctx, "webhook payload rejected", "err", err)
		return res, err
	}
	if p.ignore != "" {
		res.advance(StateDropped)
		res.Outcome = OutcomeIgnored
		r.log.Debug(ctx, "webhook ignored", "reason", p.ignore)
		return res, nil
	}
	res.Message = p.msg
	return res, nil
}

// HandleWebhook runs the whole pipeline synchronously.
func (r *Router) HandleWebhook(ctx context.Context, body []byte, signature string) (Result, error) {
	res, err := r.Ingest(ctx, body, signature)
	if err != nil || res.State == StateDropped {
		return res, err
	}
	return r.process(ctx, res, modeLive), nil
}

// runMode selects between live delivery and an operator simulation.
type runMode int

const (
	modeLive runMode = iota
	modeSimulate
)

// Process runs an already-trusted message through the live pipeline.
func (r *Router) Process(ctx context.Context, msg message.Inbound) Result {
	return r.process(ctx, r.trusted(msg), modeLive)
}

// Simulate answers msg and records the exchange in history without rate
// limiting or sending anything to the marketplace.
func (r *Router) Simulate(ctx context.Context, msg message.Inbound) Result {
	return r.process(ctx, r.trusted(msg), modeSimulate)
}

func (r *Router) trusted(msg message.Inbound) Result {
	res := Result{Message: msg}
	res.advance(StateReceived)
	res.advance(StateVerified)
	if res.Message.ReceivedAt.IsZero() {
		res.Message.ReceivedAt = r.now()
	}
	return res
}

func (r *Router) process(ctx context.Context, res Result, mode runMode) Result {
	msg := res.Message
	r.received.Add(1)
	log := r.log.With("sender", msg.SenderID, "conversation", msg.ConversationID, "type", string(msg.Type))

	if mode == modeLive && !r.deps.Limiter.Allow(msg.SenderID) {
		res.advance(StateDropped)
		res.Outcome = OutcomeRateLimited
		res.Err = apperr.New(apperr.KindRateLimited, "sender="+msg.SenderID, nil)
		r.dropped.Add(1)
		log.Warn(ctx, "sender rate limited")
		r.appendLog(ctx, r.incoming(msg, "", OutcomeRateLimited))
		r.publish(ctx, res)
		return res
	}
	res.advance(StateRateChecked)
	res.advance(StateClassified)

	switch msg.Type {
	case message.TypeText:
		if msg.Text == "" {
			res.advance(StateDropped)
			res.Outcome = OutcomeIgnored
			r.dropped.Add(1)
			log.Debug(ctx, "empty text message ignored")
			return res
		}
		return r.answerText(ctx, log, res, mode)
	case message.TypeSticker:
		if r.cfg.StickerAck != "" {
			return r.acknowledge(ctx, log, res, mode)
		}
	}

	// Images, order cards and anything unrecognised are logged without a reply.
	r.appendLog(ctx, r.incoming(msg, "", OutcomeAcknowledged))
	res.Outcome = OutcomeAcknowledged
	res.advance(StateLogged)
	log.Info(ctx, "non-text message acknowledged")
	r.publish(ctx, res)
	return res
}

func (r *Router) answerText(ctx context.Context, log logging.Logger, res Result, mode runMode) Result {
	msg := res.Message
	decision := mood.Analyze(msg.Text)
	res.Mood = decision.Mood

	res.Reply, res.Source = r.reply(ctx, log, msg)
	res.advance(StateReplied)

	now := r.now()
	err := r.deps.Conversations.Append(ctx, msg.SenderID,
		conversation.Entry{SenderID: msg.SenderID, Role: conversation.RoleUser, Text: msg.Text, Timestamp: msg.ReceivedAt},
		conversation.Entry{SenderID: msg.SenderID, Role: conversation.RoleAssistant, Text: res.Reply, Timestamp: now},
	)
	if err != nil {
		log.Error(ctx, "append conversation history failed", "err", err)
	}

	return r.deliver(ctx, log, res, mode)
}

// reply picks a keyword rule first, then the model, then the fallback text.
func (r *Router) reply(ctx context.Context, log logging.Logger, msg message.Inbound) (string, msglog.Source) {
	if r.deps.Matcher != nil {
		m, ok, err := r.deps.Matcher.Match(ctx, msg.Text)
		if err != nil {
			log.Warn(ctx, "keyword lookup failed, asking model", "err", err)
		}
		if ok {
			log.Info(ctx, "keyword rule matched", "rule", m.RuleID, "keyword", m.Keyword)
			return m.Reply, msglog.SourceKeyword
		}
	}

	if r.deps.Responder == nil {
		r.fallbacks.Add(1)
		return ai.FallbackReply, msglog.SourceFallback
	}

	history, err := r.deps.Conversations.History(ctx, msg.SenderID)
	if err != nil {
		log.Warn(ctx, "load conversation history failed", "err", err)
		history = nil
	}

	aiCtx, cancel := context.WithTimeout(ctx, r.cfg.AITimeout)
	defer cancel()
	text, err := r.deps.Responder.Generate(aiCtx, msg.SenderID, msg.Text, history)
	if err != nil {
		r.fallbacks.Add(1)
		log.Warn(ctx, "ai reply failed, using fallback", "err", err)
		return ai.FallbackReply, msglog.SourceFallback
	}
	return text, msglog.SourceAI
}

func (r *Router) acknowledge(ctx context.Context, log logging.Logger, res Result, mode runMode) Result {
	res.Reply = r.cfg.StickerAck
	res.Source = msglog.SourceAck
	res.advance(StateReplied)
	return r.deliver(ctx, log, res, mode)
}

// deliver sends the reply and writes both log records. History is already
// stored and stays stored when delivery fails.
func (r *Router) deliver(ctx context.Context, log logging.Logger, res Result, mode runMode) Result {
	msg := res.Message
	out := message.Outbound{
		ConversationID: msg.ConversationID,
		ToID:           msg.SenderID,
		Text:           res.Reply,
		InReplyTo:      msg.ID,
	}

	outcome := OutcomeSent
	if mode == modeSimulate {
		outcome = OutcomeSimulated
		log.Info(ctx, "simulated reply", "source", string(res.Source))
	} else if err := r.send(ctx, out); err != nil {
		outcome = OutcomeDeliveryFailed
		res.Err = apperr.New(apperr.KindDeliveryFailed, "send", err)
		r.deliveryFailed.Add(1)
		log.Error(ctx, "reply delivery failed", "source", string(res.Source), "err", err)
	} else {
		r.replied.Add(1)
		log.Info(ctx, "reply sent", "source", string(res.Source), "mood", string(res.Mood))
	}
	res.Outcome = outcome

	in := r.incoming(msg, res.Mood, OutcomeReceived)
	reply := msglog.Record{
		Direction:      msglog.Outgoing,
		SenderID:       msg.SenderID,
		ConversationID: msg.ConversationID,
		Type:           string(message.TypeText),
		Text:           res.Reply,
		Source:         res.Source,
		Outcome:        outcome,
	}
	if res.Err != nil {
		reply.Error = res.Err.Error()
	}
	r.appendLog(ctx, in)
	r.appendLog(ctx, reply)

	res.advance(StateLogged)
	r.publish(ctx, res)
	return res
}

func (r *Router) send(ctx context.Context, out message.Outbound) error {
	backoff := retry.WithMaxRetries(r.cfg.SendRetries, retry.NewExponential(r.cfg.SendBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		token, err := r.deps.Tokens.ValidToken(ctx)
		if err != nil {
			return err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
		defer cancel()
		if err := r.deps.Sender.Send(attemptCtx, out, token); err != nil {
			if errors.Is(err, apperr.ErrAuthUnavailable) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (r *Router) incoming(msg message.Inbound, label mood.Label, outcome string) msglog.Record {
	return msglog.Record{
		ID:             msg.ID,
		Direction:      msglog.Incoming,
		SenderID:       msg.SenderID,
		ConversationID: msg.ConversationID,
		Type:           string(msg.Type),
		Text:           msg.Text,
		Mood:           string(label),
		Outcome:        outcome,
		At:             msg.ReceivedAt,
	}
}

func (r *Router) appendLog(ctx context.Context, rec msglog.Record) {
	if err := r.deps.Log.Append(ctx, rec); err != nil {
		r.log.Warn(ctx, "message log append failed", "direction", string(rec.Direction), "err", err)
	}
}

type processedEvent struct {
	SenderID       string        `json:"senderId"`
	ConversationID string        `json:"conversationId"`
	Type           message.Type  `json:"type"`
	Text           string        `json:"text,omitempty"`
	Reply          string        `json:"reply,omitempty"`
	Source         msglog.Source `json:"source,omitempty"`
	Mood           mood.Label    `json:"mood,omitempty"`
	Outcome        string        `json:"outcome"`
	Error          string        `json:"error,omitempty"`
}

func (r *Router) publish(ctx context.Context, res Result) {
	if r.deps.Publisher == nil {
		return
	}
	ev := processedEvent{
		SenderID:       res.Message.SenderID,
		ConversationID: res.Message.ConversationID,
		Type:           res.Message.Type,
		Text:           res.Message.Text,
		Reply:          res.Reply,
		Source:         res.Source,
		Mood:           res.Mood,
		Outcome:        res.Outcome,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	r.deps.Publisher.Publish(ctx, EventProcessed, ev)
}

// Stats returns a snapshot of the pipeline counters.
func (r *Router) Stats() Stats {
	return Stats{
		Received:       r.received.Load(),
		Replied:        r.replied.Load(),
		Dropped:        r.dropped.Load(),
		DeliveryFailed: r.deliveryFailed.Load(),
		Fallbacks:      r.fallbacks.Load(),
		Queued:         len(r.queue),
	}
}
