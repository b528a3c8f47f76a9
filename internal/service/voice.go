package service

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/sowelni/medbot/internal/domain"
)

// TurnRunner serializes spoken turns over one conversation. A new
// utterance preempts the turn in flight: generation is cancelled, the
// partial answer is finalized into history, and an empty sentinel string is
// emitted so downstream audio synthesis can flush before the next answer
// starts.
type TurnRunner struct {
	chat   *ChatSystem
	out    chan string
	logger *zap.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	turnDone chan struct{}
	stopped  bool
}

// NewTurnRunner creates a runner emitting response fragments on Out.
func NewTurnRunner(chat *ChatSystem, logger *zap.Logger) *TurnRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TurnRunner{
		chat:   chat,
		out:    make(chan string),
		logger: logger,
	}
}

// Out returns the fragment channel. An empty string marks the boundary of
// the previous turn whenever a new utterance or Stop supersedes it,
// whether that turn was still streaming or had already finished; the
// channel closes on Stop.
func (r *TurnRunner) Out() <-chan string {
	return r.out
}

// Submit starts answering text, preempting any turn still in flight.
func (r *TurnRunner) Submit(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return domain.NewDomainError(domain.ErrCodeInternalError, "turn runner is stopped")
	}

	r.preemptLocked()

	turnCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.turnDone = done

	go r.run(turnCtx, text, done)
	return nil
}

// Stop preempts any in-flight turn and closes the fragment channel.
func (r *TurnRunner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.preemptLocked()
	r.stopped = true
	close(r.out)
}

// preemptLocked cancels the previous turn if still running, waits for its
// finalization and emits the flush sentinel. Callers hold r.mu.
func (r *TurnRunner) preemptLocked() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.turnDone
	r.cancel = nil
	r.turnDone = nil
	r.out <- ""
}

func (r *TurnRunner) run(ctx context.Context, text string, done chan struct{}) {
	defer close(done)

	stream, err := r.chat.ReceiveStream(ctx, text)
	if err != nil {
		r.logger.Error("voice turn failed to start", zap.Error(err))
		return
	}

	for token := range stream.Tokens() {
		select {
		case r.out <- token:
		case <-ctx.Done():
		}
	}

	if _, err := stream.Wait(); err != nil {
		var aborted *domain.GenerationAborted
		if errors.As(err, &aborted) {
			r.logger.Info("voice turn preempted",
				zap.Int("partial_len", len(aborted.Partial)))
			return
		}
		r.logger.Error("voice turn failed", zap.Error(err))
	}
}
