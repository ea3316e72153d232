package properties

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"github.com/silverlynx/tgfilelink/internal/types"
)

type stubFetcher struct {
	calls int
	msg   *tg.Message
	err   error
}

func (s *stubFetcher) FetchMessage(ctx context.Context, archiveID int64, messageID int) (*tg.Message, error) {
	s.calls++
	return s.msg, s.err
}

func TestResolveCachesAcrossCalls(t *testing.T) {
	c := NewCache(zap.NewNop())
	identity := &types.FileIdentity{FileKind: types.FileKindDocument, MediaID: 42, FileSize: 100}
	if err := c.Set(0, Key{ArchiveID: 1, MessageID: 2}, identity); err != nil {
		t.Fatalf("Set: %v", err)
	}

	fetcher := &stubFetcher{err: errors.New("should not be called")}
	got, err := c.Resolve(context.Background(), 0, fetcher, Key{ArchiveID: 1, MessageID: 2})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.MediaID != identity.MediaID {
		t.Errorf("MediaID = %d, want %d", got.MediaID, identity.MediaID)
	}
	if fetcher.calls != 0 {
		t.Errorf("fetcher called %d times on a cache hit, want 0", fetcher.calls)
	}
}

func TestResolveIsPerWorker(t *testing.T) {
	c := NewCache(zap.NewNop())
	identity := &types.FileIdentity{FileKind: types.FileKindDocument, MediaID: 7}
	key := Key{ArchiveID: 1, MessageID: 2}
	if err := c.Set(0, key, identity); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok := c.Get(1, key); ok {
		t.Errorf("Get on a different worker index unexpectedly hit")
	}
}

func TestSweepClearsEntries(t *testing.T) {
	c := NewCache(zap.NewNop())
	key := Key{ArchiveID: 1, MessageID: 2}
	if err := c.Set(0, key, &types.FileIdentity{MediaID: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Sweep(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		if _, ok := c.Get(0, key); !ok {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatal("Sweep never cleared the cache")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	cancel()
	<-done
}

func TestKeyDistinguishesArchives(t *testing.T) {
	c := NewCache(zap.NewNop())
	idA := &types.FileIdentity{MediaID: 1}
	idB := &types.FileIdentity{MediaID: 2}
	if err := c.Set(0, Key{ArchiveID: 1, MessageID: 5}, idA); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Set(0, Key{ArchiveID: 2, MessageID: 5}, idB); err != nil {
		t.Fatalf("Set: %v", err)
	}
	gotA, _ := c.Get(0, Key{ArchiveID: 1, MessageID: 5})
	gotB, _ := c.Get(0, Key{ArchiveID: 2, MessageID: 5})
	if gotA.MediaID != 1 || gotB.MediaID != 2 {
		t.Errorf("cache entries collided across archive ids: %+v, %+v", gotA, gotB)
	}
}
