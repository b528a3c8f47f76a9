package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sowelni/medbot/internal/domain"
	"github.com/sowelni/medbot/internal/llm"
)

// ctxBoundStream yields its tokens and then blocks until the stream's
// context is cancelled, like a live connection with no more data yet.
type ctxBoundStream struct {
	ctx    context.Context
	tokens []string
	pos    int
}

func (s *ctxBoundStream) Recv() (string, error) {
	if s.pos < len(s.tokens) {
		t := s.tokens[s.pos]
		s.pos++
		return t, nil
	}
	<-s.ctx.Done()
	return "", s.ctx.Err()
}

func (s *ctxBoundStream) Close() error { return nil }

// outCollector drains a TurnRunner's output into a snapshot-able slice.
type outCollector struct {
	mu     sync.Mutex
	tokens []string
	done   chan struct{}
}

func collectOut(out <-chan string) *outCollector {
	c := &outCollector{done: make(chan struct{})}
	go func() {
		defer close(c.done)
		for token := range out {
			c.mu.Lock()
			c.tokens = append(c.tokens, token)
			c.mu.Unlock()
		}
	}()
	return c
}

func (c *outCollector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tokens...)
}

func (c *outCollector) contains(token string) bool {
	for _, t := range c.snapshot() {
		if t == token {
			return true
		}
	}
	return false
}

func TestTurnRunner_DeliversTokensAndSentinelOnStop(t *testing.T) {
	gen := dispatchingGenerator("")
	gen.streamFn = func(ctx context.Context, prompt string) (llm.TokenStream, error) {
		return &staticStream{tokens: []string{"covered"}}, nil
	}
	f := newChatFixture(t, gen, ChatSystemConfig{Persist: true, Voice: true})
	runner := NewTurnRunner(f.chat, zap.NewNop())
	c := collectOut(runner.Out())

	require.NoError(t, runner.Submit(context.Background(), "Is dental covered?"))
	assert.Eventually(t, func() bool { return c.contains("covered") }, time.Second, 5*time.Millisecond)

	runner.Stop()
	<-c.done

	assert.Equal(t, []string{"covered", ""}, c.snapshot())
	assert.Error(t, runner.Submit(context.Background(), "too late"))
}

func TestTurnRunner_NewUtterancePreemptsInFlightTurn(t *testing.T) {
	var calls int
	gen := dispatchingGenerator("")
	gen.streamFn = func(ctx context.Context, prompt string) (llm.TokenStream, error) {
		calls++
		if calls == 1 {
			return &ctxBoundStream{ctx: ctx, tokens: []string{"Hello "}}, nil
		}
		return &staticStream{tokens: []string{"World"}}, nil
	}
	f := newChatFixture(t, gen, ChatSystemConfig{Persist: true, Voice: true})
	runner := NewTurnRunner(f.chat, zap.NewNop())
	c := collectOut(runner.Out())

	require.NoError(t, runner.Submit(context.Background(), "first question"))
	assert.Eventually(t, func() bool { return c.contains("Hello ") }, time.Second, 5*time.Millisecond)

	require.NoError(t, runner.Submit(context.Background(), "second question"))
	assert.Eventually(t, func() bool { return c.contains("World") }, time.Second, 5*time.Millisecond)

	runner.Stop()
	<-c.done

	// The preempted turn is cut off with an empty sentinel before the next
	// answer starts.
	assert.Equal(t, []string{"Hello ", "", "World", ""}, c.snapshot())

	// The interrupted partial was still finalized into the conversation.
	var partials []string
	for _, m := range f.store.messagesFor("conv-1") {
		if m.Role == domain.RoleAssistant {
			partials = append(partials, m.Content)
		}
	}
	require.Len(t, partials, 2)
	assert.Equal(t, "Hello ", partials[0])

	found := false
	for _, m := range f.store.messagesFor("conv-1") {
		if m.Role == domain.RoleAssistant && strings.HasPrefix(m.Content, "Hello") {
			aborted, _ := m.Context["aborted"].(bool)
			found = aborted
		}
	}
	assert.True(t, found)
}
