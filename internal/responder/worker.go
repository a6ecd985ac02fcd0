package responder

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"wesim/internal/bus"
)

const replyTimeout = 30 * time.Second

// Request is one pending ask for an automated contact's reply.
type Request struct {
	ChatID  string
	Persona string
	History []Turn
	Message string
}

// Worker runs gateway calls off the send path. Each ask waits a short
// simulated typing delay, invokes the gateway, and publishes the result
// (or the fallback) as a responder.reply event. Replies may land after
// the user moved on or even deleted the chat; the consumer re-materializes
// the chat or discards as appropriate.
type Worker struct {
	gw     Gateway
	bus    *bus.Bus
	logger *zap.Logger
	delay  func() time.Duration
	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup
}

// NewWorker creates a worker. A nil gateway disables generation: every ask
// resolves to the fallback text.
func NewWorker(gw Gateway, b *bus.Bus, logger *zap.Logger) *Worker {
	return &Worker{
		gw:     gw,
		bus:    b,
		logger: logger,
		delay: func() time.Duration {
			return time.Second + time.Duration(rand.Int63n(int64(2*time.Second)))
		},
	}
}

// Start arms the worker. Asks made before Start are rejected.
func (w *Worker) Start(ctx context.Context) {
	w.ctx, w.cancel = context.WithCancel(ctx)
}

// Stop cancels in-flight asks and waits for their goroutines.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Ask schedules an async reply for chatID. It never blocks the caller.
func (w *Worker) Ask(req Request) {
	if w.ctx == nil {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		select {
		case <-time.After(w.delay()):
		case <-w.ctx.Done():
			return
		}

		text := Fallback
		if w.gw != nil {
			ctx, cancel := context.WithTimeout(w.ctx, replyTimeout)
			reply, err := w.gw.Reply(ctx, req.Persona, req.History, req.Message)
			cancel()
			if err != nil {
				w.logger.Warn("responder gateway failed, using fallback",
					zap.String("chat_id", req.ChatID), zap.Error(err))
			} else {
				text = reply
			}
		}

		if w.ctx.Err() != nil {
			return
		}
		w.bus.Publish(bus.Event{
			Kind:      bus.KindResponderReply,
			Timestamp: time.Now(),
			Payload:   bus.ResponderReply{ChatID: req.ChatID, Text: text},
		})
	}()
}
