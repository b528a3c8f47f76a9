package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sowelni/medbot/internal/domain"
	"github.com/sowelni/medbot/internal/telemetry"
)

const basePreamble = `<|im_start|>system
You are a helpful assistant for employees of a health coverage organization. Answer questions about medical coverage, reimbursements, pensions and administrative procedures.
Answer in the same language as the question.
Answer only from the provided context. If the context does not contain the answer, say you do not have that information and suggest contacting an advisor.
Never invent amounts, deadlines or document requirements.`

const voicePreamble = `<|im_start|>system
You are a helpful voice assistant for employees of a health coverage organization. Answer questions about medical coverage, reimbursements, pensions and administrative procedures.
Answer in the same language as the question.
Answer only from the provided context. If the context does not contain the answer, say you do not have that information and suggest contacting an advisor.
Your answer will be read aloud: keep it short, use plain sentences, no markdown, no lists, no headings.`

const contextBlockTemplate = `

### Context ###
%s`

// ContextRetriever supplies relevant chunks for a query. Implemented by
// Retriever.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string) ([]*domain.RetrievedContext, error)
}

// TurnResult is the outcome of one completed conversational turn.
type TurnResult struct {
	Response           string
	UserMessageID      string
	AssistantMessageID string
}

// ChatSystemConfig configures a ChatSystem.
type ChatSystemConfig struct {
	// Voice switches the system preamble to the spoken-answer variant.
	Voice bool
	// Persist controls whether finalized turns are written through to the
	// store. History stays consistent in memory either way.
	Persist bool
	// OnToken, when set, is called synchronously with every streamed
	// fragment before it is delivered on the stream channel.
	OnToken func(token string)
	IDs     IDGenerator
	Logger  *zap.Logger
}

// ChatSystem orchestrates one conversation: each user turn is rewritten to
// a standalone query, grounded with retrieved context, answered by the
// generation service and finalized into history with full timing and
// scoring metadata.
type ChatSystem struct {
	generator GenerationClient
	retriever ContextRetriever
	history   *History
	utils     *ConversationUtils
	voice     bool
	persist   bool
	onToken   func(string)
	ids       IDGenerator
	logger    *zap.Logger

	titleGenerated bool
}

// NewChatSystem creates the orchestrator for one conversation.
func NewChatSystem(generator GenerationClient, retriever ContextRetriever, history *History, utils *ConversationUtils, cfg ChatSystemConfig) *ChatSystem {
	if cfg.IDs == nil {
		cfg.IDs = &DefaultIDGenerator{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &ChatSystem{
		generator:      generator,
		retriever:      retriever,
		history:        history,
		utils:          utils,
		voice:          cfg.Voice,
		persist:        cfg.Persist,
		onToken:        cfg.OnToken,
		ids:            cfg.IDs,
		logger:         cfg.Logger,
		titleGenerated: history.Conversation().Title != "",
	}
}

// History exposes the managed transcript.
func (c *ChatSystem) History() *History {
	return c.history
}

// Close flushes transcript entries still pending persistence, such as a
// turn whose write-through failed during finalization. It is a no-op for
// non-persisted sessions.
func (c *ChatSystem) Close(ctx context.Context) error {
	if !c.persist {
		return nil
	}
	return c.history.Flush(ctx)
}

// turnState accumulates everything produced while answering one turn.
type turnState struct {
	userText  string
	rewritten string
	contexts  []*domain.RetrievedContext
	prompt    string
	timings   map[string]any
	started   time.Time
}

// Receive answers one user turn, blocking until the full response is
// available. The turn is finalized into history before returning.
func (c *ChatSystem) Receive(ctx context.Context, text string) (*TurnResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "ChatSystem.Receive", telemetry.SpanAttributes{
		ConversationID: c.history.Conversation().ID,
		Operation:      "turn",
	})
	defer span.End()

	st, err := c.prepare(ctx, text)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	genStart := time.Now()
	answer, err := c.generator.Invoke(ctx, st.prompt)
	if err != nil {
		span.SetError(err)
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExternalService, "generation failed", err)
	}
	st.timings["generation_ms"] = time.Since(genStart).Milliseconds()

	return c.finalize(ctx, st, answer, false)
}

// TurnStream delivers one streamed response token by token. Tokens must be
// drained; Wait blocks until finalization completes and reports the
// turn's outcome.
type TurnStream struct {
	tokens chan string
	done   chan struct{}

	result *TurnResult
	err    error
}

// Tokens returns the channel of response fragments. It is closed when the
// stream ends, successfully or not.
func (s *TurnStream) Tokens() <-chan string {
	return s.tokens
}

// Wait blocks until the turn is finalized. On a mid-stream failure it
// returns a *domain.GenerationAborted carrying the partial text, which has
// already been finalized into history.
func (s *TurnStream) Wait() (*TurnResult, error) {
	<-s.done
	return s.result, s.err
}

// ReceiveStream answers one user turn, streaming response fragments as they
// arrive. Cancelling ctx aborts generation; the partial answer accumulated
// so far is still finalized.
func (c *ChatSystem) ReceiveStream(ctx context.Context, text string) (*TurnStream, error) {
	st, err := c.prepare(ctx, text)
	if err != nil {
		return nil, err
	}

	ts := &TurnStream{
		tokens: make(chan string),
		done:   make(chan struct{}),
	}
	go c.stream(ctx, st, ts)
	return ts, nil
}

func (c *ChatSystem) stream(ctx context.Context, st *turnState, ts *TurnStream) {
	defer close(ts.done)
	defer close(ts.tokens)

	genStart := time.Now()
	var sb strings.Builder
	var firstToken time.Duration

	finish := func(cause error) {
		st.timings["generation_ms"] = time.Since(genStart).Milliseconds()
		if firstToken > 0 {
			st.timings["first_token_ms"] = firstToken.Milliseconds()
		}
		partial := sb.String()
		aborted := cause != nil

		// Finalization must survive the cancellation that aborted the
		// stream.
		fctx := context.WithoutCancel(ctx)
		result, err := c.finalize(fctx, st, partial, aborted)
		if err != nil {
			ts.err = err
			return
		}
		ts.result = result
		if aborted {
			ts.err = &domain.GenerationAborted{Partial: partial, Cause: cause}
		}
	}

	stream, err := c.generator.Stream(ctx, st.prompt)
	if err != nil {
		finish(err)
		return
	}
	defer stream.Close()

	for {
		token, err := stream.Recv()
		if err == io.EOF {
			finish(nil)
			return
		}
		if err != nil {
			finish(err)
			return
		}
		if firstToken == 0 {
			firstToken = time.Since(genStart)
		}
		sb.WriteString(token)
		if c.onToken != nil {
			c.onToken(token)
		}

		select {
		case ts.tokens <- token:
		case <-ctx.Done():
			finish(ctx.Err())
			return
		}
	}
}

// prepare rewrites the question, retrieves context and builds the prompt.
func (c *ChatSystem) prepare(ctx context.Context, text string) (*turnState, error) {
	st := &turnState{
		userText: text,
		timings:  map[string]any{},
		started:  time.Now(),
	}

	rewriteStart := time.Now()
	rewritten, err := c.utils.Rewrite(ctx, text, c.history.ChatMessages())
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExternalService, "query rewriting failed", err)
	}
	st.rewritten = rewritten
	st.timings["rewrite_ms"] = time.Since(rewriteStart).Milliseconds()

	retrievalStart := time.Now()
	contexts, err := c.retriever.Retrieve(ctx, rewritten)
	if err != nil {
		return nil, err
	}
	st.contexts = contexts
	st.timings["retrieval_ms"] = time.Since(retrievalStart).Milliseconds()

	promptStart := time.Now()
	st.prompt = c.buildPrompt(st)
	st.timings["prompt_build_ms"] = time.Since(promptStart).Milliseconds()
	return st, nil
}

// buildPrompt renders the system preamble, an optional context block, the
// transcript and the current question into the model's chat markup.
func (c *ChatSystem) buildPrompt(st *turnState) string {
	var sb strings.Builder

	if c.voice {
		sb.WriteString(voicePreamble)
	} else {
		sb.WriteString(basePreamble)
	}
	if ctxText := renderContexts(st.contexts); ctxText != "" {
		sb.WriteString(fmt.Sprintf(contextBlockTemplate, ctxText))
	}
	sb.WriteString("\n<|im_end|>\n")

	for _, m := range c.history.ChatMessages() {
		sb.WriteString("<|im_start|>")
		sb.WriteString(m.Role)
		sb.WriteString("\n")
		sb.WriteString(m.Content)
		sb.WriteString("\n<|im_end|>\n")
	}

	sb.WriteString("<|im_start|>user\n")
	sb.WriteString(st.userText)
	sb.WriteString("\n<|im_end|>\n<|im_start|>assistant\n")
	return sb.String()
}

func renderContexts(contexts []*domain.RetrievedContext) string {
	if len(contexts) == 0 {
		return ""
	}
	parts := make([]string, len(contexts))
	for i, c := range contexts {
		parts[i] = fmt.Sprintf("Document: %s\n%s", c.DocumentTitle, c.Chunk.Text)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// finalize records the exchange in history with its metadata, persists it,
// generates a title after the first reply and triggers compaction. Title
// and compaction failures are logged but never fail a turn whose answer
// already exists.
func (c *ChatSystem) finalize(ctx context.Context, st *turnState, answer string, aborted bool) (*TurnResult, error) {
	tokensBefore := c.history.TokenCount(ctx)

	userID := c.ids.NewID()
	c.history.Append(domain.RoleUser, st.userText, AppendOptions{
		ID: userID,
		Context: map[string]any{
			"rewritten_query": st.rewritten,
		},
	})

	assistantCtx := map[string]any{
		"rewritten_query": st.rewritten,
		"chunks":          contextScores(st.contexts),
		"timings":         st.timings,
	}
	if aborted {
		assistantCtx["aborted"] = true
	}
	assistantID := c.ids.NewID()
	c.history.Append(domain.RoleAssistant, answer, AppendOptions{
		ID:      assistantID,
		Context: assistantCtx,
	})

	tokensAfter := c.history.TokenCount(ctx)
	assistantCtx["token_usage"] = map[string]any{
		"before": tokensBefore,
		"after":  tokensAfter,
		"delta":  tokensAfter - tokensBefore,
	}

	if !c.titleGenerated {
		titleStart := time.Now()
		title, err := c.utils.GenerateTitle(ctx, st.userText, answer)
		st.timings["title_gen_ms"] = time.Since(titleStart).Milliseconds()
		if err != nil {
			c.logger.Warn("title generation failed", zap.Error(err))
		} else {
			c.history.Conversation().Title = title
			c.titleGenerated = true
		}
	}

	if c.persist {
		if err := c.history.Flush(ctx); err != nil {
			return nil, err
		}
	}

	if c.persist && !aborted {
		if err := c.history.MaybeCompact(ctx); err != nil {
			c.logger.Warn("history compaction failed", zap.Error(err))
		}
	}

	c.logger.Info("turn completed",
		zap.String("conversation_id", c.history.Conversation().ID),
		zap.Bool("aborted", aborted),
		zap.Int64("total_ms", time.Since(st.started).Milliseconds()))

	return &TurnResult{
		Response:           answer,
		UserMessageID:      userID,
		AssistantMessageID: assistantID,
	}, nil
}

func contextScores(contexts []*domain.RetrievedContext) []map[string]any {
	scores := make([]map[string]any, len(contexts))
	for i, c := range contexts {
		scores[i] = map[string]any{
			"chunk_id":          c.Chunk.ID,
			"document_title":    c.DocumentTitle,
			"summary_score":     c.SummaryScore,
			"small_chunk_score": c.SmallChunkScore,
			"combined_score":    c.CombinedScore,
			"rerank_score":      c.RerankScore,
		}
	}
	return scores
}
