package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sowelni/medbot/internal/domain"
	"github.com/sowelni/medbot/internal/llm"
)

// fakeGenerator implements GenerationClient with overridable behavior.
// Token counting defaults to a whitespace word count.
type fakeGenerator struct {
	invokeFn func(ctx context.Context, prompt string) (string, error)
	streamFn func(ctx context.Context, prompt string) (llm.TokenStream, error)
	chatFn   func(ctx context.Context, messages []llm.ChatMessage) (string, error)
	countErr error

	mu      sync.Mutex
	invoked []string
}

func (g *fakeGenerator) Invoke(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.invoked = append(g.invoked, prompt)
	g.mu.Unlock()
	if g.invokeFn != nil {
		return g.invokeFn(ctx, prompt)
	}
	return "ok", nil
}

func (g *fakeGenerator) Stream(ctx context.Context, prompt string) (llm.TokenStream, error) {
	if g.streamFn != nil {
		return g.streamFn(ctx, prompt)
	}
	return &staticStream{tokens: []string{"ok"}}, nil
}

func (g *fakeGenerator) Chat(ctx context.Context, messages []llm.ChatMessage) (string, error) {
	if g.chatFn != nil {
		return g.chatFn(ctx, messages)
	}
	return "summary", nil
}

func (g *fakeGenerator) CountTokens(ctx context.Context, text string) (int, int, error) {
	if g.countErr != nil {
		return 0, 0, g.countErr
	}
	return len(strings.Fields(text)), 0, nil
}

func (g *fakeGenerator) CountConversationTokens(ctx context.Context, messages []llm.ChatMessage) (int, int, error) {
	if g.countErr != nil {
		return 0, 0, g.countErr
	}
	total := 0
	for _, m := range messages {
		total += len(strings.Fields(m.Content))
	}
	return total, 0, nil
}

func (g *fakeGenerator) invokedPrompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.invoked...)
}

// staticStream replays a fixed token sequence and then returns finalErr or
// io.EOF.
type staticStream struct {
	tokens   []string
	finalErr error
	pos      int
	closed   bool
}

func (s *staticStream) Recv() (string, error) {
	if s.pos >= len(s.tokens) {
		if s.finalErr != nil {
			return "", s.finalErr
		}
		return "", io.EOF
	}
	t := s.tokens[s.pos]
	s.pos++
	return t, nil
}

func (s *staticStream) Close() error {
	s.closed = true
	return nil
}

type fakeEmbedder struct {
	embedFn func(ctx context.Context, texts []string) ([][]float32, error)

	mu      sync.Mutex
	batches [][]string
}

func (e *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.batches = append(e.batches, append([]string(nil), texts...))
	e.mu.Unlock()
	if e.embedFn != nil {
		return e.embedFn(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

type fakeReranker struct {
	rerankFn func(ctx context.Context, query string, candidates []string) ([]llm.RerankResult, error)
}

func (r *fakeReranker) Rerank(ctx context.Context, query string, candidates []string) ([]llm.RerankResult, error) {
	if r.rerankFn != nil {
		return r.rerankFn(ctx, query, candidates)
	}
	out := make([]llm.RerankResult, len(candidates))
	for i := range candidates {
		out[i] = llm.RerankResult{Index: i, Score: 0.5}
	}
	return out, nil
}

type fakeRetriever struct {
	contexts []*domain.RetrievedContext
	err      error
	queries  []string
}

func (r *fakeRetriever) Retrieve(ctx context.Context, query string) ([]*domain.RetrievedContext, error) {
	r.queries = append(r.queries, query)
	return r.contexts, r.err
}

// memStore is an in-memory HistoryStore.
type memStore struct {
	mu            sync.Mutex
	conversations map[string]domain.Conversation
	messages      []*domain.Message
	saveErr       error
	insertErr     error
}

func newMemStore() *memStore {
	return &memStore{conversations: map[string]domain.Conversation{}}
}

func (s *memStore) SaveConversation(ctx context.Context, conv *domain.Conversation) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = *conv
	return nil
}

func (s *memStore) InsertMessage(ctx context.Context, msg *domain.Message) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *msg
	s.messages = append(s.messages, &copied)
	return nil
}

func (s *memStore) ListMessagesDesc(ctx context.Context, conversationID string, before *time.Time, limit int) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Message
	for _, m := range s.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if before != nil && !m.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) messagesFor(conversationID string) []*domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out
}

// memTxRunner is an in-memory TxRunner. Writes apply immediately; rollback
// is not simulated beyond surfacing fn's error.
type memTxRunner struct {
	docs   *memDocRepo
	chunks *memChunkRepo
	txErr  error
}

func newMemTxRunner() *memTxRunner {
	return &memTxRunner{docs: &memDocRepo{statuses: map[string]domain.DocumentStatus{}, errors: map[string]string{}}, chunks: &memChunkRepo{}}
}

func (r *memTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	if r.txErr != nil {
		return r.txErr
	}
	return fn(r)
}

func (r *memTxRunner) Documents() DocumentTxRepository { return r.docs }
func (r *memTxRunner) Chunks() ChunkTxRepository       { return r.chunks }

type memDocRepo struct {
	created  []*domain.Document
	statuses map[string]domain.DocumentStatus
	errors   map[string]string
}

func (r *memDocRepo) Create(ctx context.Context, doc *domain.Document) error {
	r.created = append(r.created, doc)
	r.statuses[doc.ID] = doc.Status
	return nil
}

func (r *memDocRepo) MarkOK(ctx context.Context, id string) error {
	r.statuses[id] = domain.DocumentStatusOK
	return nil
}

func (r *memDocRepo) MarkFailed(ctx context.Context, id string, errorMessage string) error {
	r.statuses[id] = domain.DocumentStatusFailed
	r.errors[id] = errorMessage
	return nil
}

type memChunkRepo struct {
	large     []*domain.LargeChunk
	summaries []*domain.LargeChunkSummary
	small     []*domain.SmallChunk
	insertErr error
}

func (r *memChunkRepo) InsertLargeChunk(ctx context.Context, chunk *domain.LargeChunk) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.large = append(r.large, chunk)
	return nil
}

func (r *memChunkRepo) InsertSummary(ctx context.Context, summary *domain.LargeChunkSummary) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.summaries = append(r.summaries, summary)
	return nil
}

func (r *memChunkRepo) InsertSmallChunk(ctx context.Context, chunk *domain.SmallChunk) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.small = append(r.small, chunk)
	return nil
}

// seqIDs issues deterministic identifiers id-1, id-2, ...
type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n)
}
