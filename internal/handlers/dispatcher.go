package handlers

import (
	"context"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// UpdateHandler processes a single Telegram update
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

// Dispatcher runs every update on its own goroutine and tracks them so
// shutdown can wait for in-flight work
type Dispatcher struct {
	handler UpdateHandler
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Each update gets at most timeout to
// finish; zero means no limit.
func NewDispatcher(handler UpdateHandler, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{handler: handler, timeout: timeout, logger: logger}
}

// Dispatch starts handling update. The update keeps running after ctx is
// cancelled so a shutdown does not cut a payment in half.
func (d *Dispatcher) Dispatch(ctx context.Context, update tgbotapi.Update) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("panic while handling update",
					zap.Int("update_id", update.UpdateID),
					zap.Any("panic", r))
			}
		}()

		uctx := context.WithoutCancel(ctx)
		if d.timeout > 0 {
			var cancel context.CancelFunc
			uctx, cancel = context.WithTimeout(uctx, d.timeout)
			defer cancel()
		}
		d.handler.HandleUpdate(uctx, update)
	}()
}

// Wait blocks until every dispatched update finished or timeout passed.
// It reports whether the drain completed.
func (d *Dispatcher) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// UpdateSource is the long-polling part of *tgbotapi.BotAPI
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// AllowedUpdates are the update kinds the bot subscribes to. chat_member
// is only delivered when requested explicitly.
var AllowedUpdates = []string{"message", "callback_query", "pre_checkout_query", "chat_member"}

// Poll receives updates by long polling until ctx is cancelled
func Poll(ctx context.Context, source UpdateSource, dispatcher *Dispatcher, logger *zap.Logger) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	cfg.AllowedUpdates = AllowedUpdates

	updates := source.GetUpdatesChan(cfg)
	logger.Info("long polling started")

	for {
		select {
		case <-ctx.Done():
			source.StopReceivingUpdates()
			logger.Info("long polling stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			dispatcher.Dispatch(ctx, update)
		}
	}
}
