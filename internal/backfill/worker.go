// Package backfill pulls older message history one page at a time,
// chat by chat, until every chat is fully synced.
package backfill

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/matheus3301/wahub/internal/store"
	"github.com/matheus3301/wahub/internal/transport"
	"go.uber.org/zap"
)

const (
	// PageSize is how many historical messages one fetch requests.
	PageSize = 100
	// idleDelay is the poll interval when no chat needs backfill.
	idleDelay = 30 * time.Second
	// donePause is the short hop to the next chat after finishing one.
	donePause = 500 * time.Millisecond
	// errorBackoff is the retry delay after a failed fetch. The same
	// chat is retried; priority order is stable until it syncs.
	errorBackoff = 30 * time.Second
)

// Worker backfills one instance. A worker is single-flight: Run refuses
// to start a second loop while one is live.
type Worker struct {
	instanceID int64
	db         *store.DB
	tr         transport.Transport
	logger     *zap.Logger
	running    atomic.Bool

	// fetch is swappable for tests; defaults to tr.FetchHistoryPage.
	fetch func(ctx context.Context, chatJID string, cursor *transport.HistoryCursor, pageSize int) (int, error)
}

// New creates a backfill worker for one instance.
func New(instanceID int64, db *store.DB, tr transport.Transport, logger *zap.Logger) *Worker {
	w := &Worker{
		instanceID: instanceID,
		db:         db,
		tr:         tr,
		logger:     logger,
	}
	if tr != nil {
		w.fetch = tr.FetchHistoryPage
	}
	return w
}

// Run drives the backfill loop until ctx is canceled. Each cycle
// decides its own follow-up delay, so a burst of empty pages walks the
// chat list quickly while real fetches pace themselves by the
// configured inter-page delay.
func (w *Worker) Run(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		w.logger.Warn("backfill loop already running")
		return
	}
	defer w.running.Store(false)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		timer.Reset(w.cycle(ctx))
	}
}

// cycle performs one unit of work and returns the delay before the next.
func (w *Worker) cycle(ctx context.Context) time.Duration {
	chat, err := w.db.NextBackfillChat(w.instanceID)
	if err != nil {
		w.logger.Error("pick backfill chat", zap.Error(err))
		return errorBackoff
	}
	if chat == nil {
		return idleDelay
	}

	cursor, err := w.db.OldestMessage(w.instanceID, chat.JID)
	if err != nil {
		w.logger.Error("read backfill cursor", zap.String("chat", chat.JID), zap.Error(err))
		return errorBackoff
	}
	var tc *transport.HistoryCursor
	if cursor != nil {
		tc = &transport.HistoryCursor{
			MessageID: cursor.WAID,
			Timestamp: cursor.Timestamp,
			FromMe:    cursor.FromMe,
		}
	}

	n, err := w.fetch(ctx, chat.JID, tc, PageSize)
	if err != nil {
		if ctx.Err() != nil {
			return idleDelay
		}
		w.logger.Warn("history page fetch failed",
			zap.String("chat", chat.JID), zap.Error(err))
		return errorBackoff
	}
	if n == 0 {
		if err := w.db.MarkChatSynced(w.instanceID, chat.JID); err != nil {
			w.logger.Error("mark chat synced", zap.String("chat", chat.JID), zap.Error(err))
			return errorBackoff
		}
		w.logger.Info("chat fully synced", zap.String("chat", chat.JID))
		return donePause
	}

	w.logger.Debug("history page fetched",
		zap.String("chat", chat.JID), zap.Int("messages", n))
	return w.db.SyncDelay()
}
