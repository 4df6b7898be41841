// Package avatar fetches profile pictures in the background, paced so
// a large contact list never trips server-side limits.
package avatar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/matheus3301/wahub/internal/jid"
	"github.com/matheus3301/wahub/internal/store"
	"github.com/matheus3301/wahub/internal/transport"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// queueDepth bounds the number of addresses waiting for a fetch.
const queueDepth = 256

// Queue fetches avatars for one instance, one address at a time, at
// most one fetch every three seconds.
type Queue struct {
	instanceID int64
	db         *store.DB
	tr         transport.Transport
	logger     *zap.Logger
	avatarDir  string
	limiter    ratelimit.Limiter

	mu      sync.Mutex
	pending map[string]struct{}
	work    chan string
}

// New creates an avatar queue writing image files under avatarDir.
func New(instanceID int64, db *store.DB, tr transport.Transport, avatarDir string, logger *zap.Logger) *Queue {
	return &Queue{
		instanceID: instanceID,
		db:         db,
		tr:         tr,
		logger:     logger,
		avatarDir:  avatarDir,
		limiter:    ratelimit.New(20, ratelimit.Per(time.Minute)),
		pending:    make(map[string]struct{}),
		work:       make(chan string, queueDepth),
	}
}

// Enqueue schedules an avatar fetch for an address. An address already
// waiting is not queued twice; a full queue drops the request, the
// next natural trigger re-enqueues it.
func (q *Queue) Enqueue(addr string) {
	addr = jid.Normalize(addr)
	if !jid.IsRoutable(addr) {
		return
	}
	q.mu.Lock()
	if _, dup := q.pending[addr]; dup {
		q.mu.Unlock()
		return
	}
	q.pending[addr] = struct{}{}
	q.mu.Unlock()

	select {
	case q.work <- addr:
	default:
		q.mu.Lock()
		delete(q.pending, addr)
		q.mu.Unlock()
		q.logger.Debug("avatar queue full, dropping", zap.String("jid", addr))
	}
}

// Run drains the queue until ctx is canceled.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case addr := <-q.work:
			q.limiter.Take()
			if err := q.fetchOne(ctx, addr); err != nil {
				q.logger.Warn("avatar fetch failed", zap.String("jid", addr), zap.Error(err))
			}
			q.mu.Lock()
			delete(q.pending, addr)
			q.mu.Unlock()
		}
	}
}

// fetchOne resolves one address. Outcomes:
//   - image returned: file written, contact and chat refs updated.
//   - definitive negative: cached refs cleared, check stamp written so
//     the negative is remembered.
//   - transient error: nothing written; no automatic retry.
func (q *Queue) fetchOne(ctx context.Context, addr string) error {
	data, err := q.tr.FetchAvatar(ctx, addr)
	if errors.Is(err, transport.ErrAvatarRemoved) {
		return q.record(addr, "")
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(q.avatarDir, 0o700); err != nil {
		return fmt.Errorf("avatar dir: %w", err)
	}
	path := filepath.Join(q.avatarDir, jid.SafeFilename(addr)+".jpg")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write avatar: %w", err)
	}
	q.logger.Debug("avatar stored", zap.String("jid", addr), zap.Int("bytes", len(data)))
	return q.record(addr, path)
}

// record writes the avatar reference onto both the contact and the
// chat row; whichever does not exist is a no-op update.
func (q *Queue) record(addr, path string) error {
	if err := q.db.SetContactAvatar(q.instanceID, addr, path); err != nil {
		return fmt.Errorf("contact avatar: %w", err)
	}
	if err := q.db.SetChatAvatar(q.instanceID, addr, path); err != nil {
		return fmt.Errorf("chat avatar: %w", err)
	}
	return nil
}
