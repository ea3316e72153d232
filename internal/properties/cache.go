// Package properties caches the FileIdentity decoded for each
// (archive, message) pair, so repeated requests for the same link don't
// re-fetch and re-decode the source message on every byte range.
package properties

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync"
	"time"

	"github.com/coocood/freecache"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"github.com/silverlynx/tgfilelink/internal/types"
)

const cacheSizeBytes = 100 * 1024 * 1024

// Key identifies one archived message. Keying by both fields, rather than
// message ID alone, keeps identities correct when the gateway fronts more
// than one archive channel and two channels happen to share message IDs.
type Key struct {
	ArchiveID int64
	MessageID int
}

func (k Key) bytes() []byte {
	return []byte(fmt.Sprintf("%d:%d", k.ArchiveID, k.MessageID))
}

// MessageFetcher fetches the raw message backing a (archive, message) pair.
// *bot.Worker satisfies this by duck typing, keeping this package free of a
// dependency on internal/bot.
type MessageFetcher interface {
	FetchMessage(ctx context.Context, archiveID int64, messageID int) (*tg.Message, error)
}

// Cache holds one freecache instance per worker index: different workers
// may see different file_reference bytes for the same message, so their
// decoded identities cannot be shared.
type Cache struct {
	mu        sync.Mutex
	perWorker map[uint32]*freecache.Cache
	log       *zap.Logger
}

func init() {
	gob.Register(types.FileIdentity{})
}

// NewCache builds an empty properties cache.
func NewCache(log *zap.Logger) *Cache {
	return &Cache{
		perWorker: make(map[uint32]*freecache.Cache),
		log:       log.Named("properties"),
	}
}

func (c *Cache) forWorker(idx uint32) *freecache.Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	fc, ok := c.perWorker[idx]
	if !ok {
		fc = freecache.NewCache(cacheSizeBytes)
		c.perWorker[idx] = fc
	}
	return fc
}

// Get returns the cached identity for key under workerIdx, if present.
func (c *Cache) Get(workerIdx uint32, key Key) (*types.FileIdentity, bool) {
	data, err := c.forWorker(workerIdx).Get(key.bytes())
	if err != nil {
		return nil, false
	}
	var identity types.FileIdentity
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&identity); err != nil {
		return nil, false
	}
	return &identity, true
}

// Set stores identity for key under workerIdx with no per-entry expiry; the
// cache relies entirely on the periodic Sweep to evict stale entries.
func (c *Cache) Set(workerIdx uint32, key Key, identity *types.FileIdentity) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(identity); err != nil {
		return fmt.Errorf("encode file identity: %w", err)
	}
	return c.forWorker(workerIdx).Set(key.bytes(), buf.Bytes(), 0)
}

// Resolve returns the cached identity for key, fetching and decoding it via
// fetcher on a cache miss.
func (c *Cache) Resolve(ctx context.Context, workerIdx uint32, fetcher MessageFetcher, key Key) (*types.FileIdentity, error) {
	if identity, ok := c.Get(workerIdx, key); ok {
		return identity, nil
	}
	msg, err := fetcher.FetchMessage(ctx, key.ArchiveID, key.MessageID)
	if err != nil {
		return nil, err
	}
	identity, err := types.IdentityFromMessage(msg)
	if err != nil {
		return nil, err
	}
	if err := c.Set(workerIdx, key, identity); err != nil {
		c.log.Warn("failed to cache file identity", zap.Error(err))
	}
	return identity, nil
}

// Sweep clears every per-worker cache on interval until ctx is cancelled.
// A full clear (rather than per-entry TTLs) matches the gateway's need to
// force-refresh file_reference bytes, which expire on a fixed schedule
// independent of when any given entry was last read.
func (c *Cache) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			for _, fc := range c.perWorker {
				fc.Clear()
			}
			c.mu.Unlock()
			c.log.Debug("cleared properties cache")
		}
	}
}
