// Package bot manages the pool of logged-in Telegram bot clients that back
// the gateway: a Registry dispatches work to the least-loaded worker and
// owns the cross-datacenter media sessions needed to fetch files that live
// outside a worker's home datacenter.
package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// Worker wraps one logged-in bot client. Index 0 is always the primary
// worker, the one used for channel resolution and message lookups; indices
// above 0 are spawned purely to spread download load.
type Worker struct {
	Index  uint32
	Client *gotgproto.Client
	Self   *tg.User
	HomeDC int

	Load           atomic.Int32
	TotalRequests  atomic.Int64
	FailedRequests atomic.Int64
	StartTime      time.Time

	log *zap.Logger
}

func (w *Worker) String() string {
	username := ""
	if w.Self != nil {
		username = w.Self.Username
	}
	return fmt.Sprintf("worker#%d(@%s)", w.Index, username)
}

// RecordStart marks the beginning of a dispatched request, for status
// reporting only; it does not affect dispatcher selection (see Streamer.Open
// for the load counter that does).
func (w *Worker) RecordStart() {
	w.TotalRequests.Add(1)
}

// RecordEnd marks a dispatched request as finished, optionally failed.
func (w *Worker) RecordEnd(failed bool) {
	if failed {
		w.FailedRequests.Add(1)
	}
}

// Registry holds every started worker and the cross-DC media sessions built
// on top of them.
type Registry struct {
	apiID          int
	apiHash        string
	useSessionFile bool
	log            *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers []*Worker
	nextIdx uint32

	sessMu   sync.Mutex
	sessions map[sessionKey]*tg.Client
}

// NewRegistry constructs an empty Registry. ctx bounds the lifetime of any
// cross-DC media sessions the registry dials; cancel it on shutdown.
// useSessionFile controls whether spawned workers persist their login to a
// sqlite file under ./sessions instead of staying in-memory.
func NewRegistry(ctx context.Context, log *zap.Logger, apiID int, apiHash string, useSessionFile bool) *Registry {
	ctx, cancel := context.WithCancel(ctx)
	return &Registry{
		apiID:          apiID,
		apiHash:        apiHash,
		useSessionFile: useSessionFile,
		log:            log.Named("bot"),
		ctx:            ctx,
		cancel:         cancel,
		sessions:       make(map[sessionKey]*tg.Client),
	}
}

// Close tears down every cross-DC media session the registry dialed.
func (r *Registry) Close() {
	r.cancel()
}

// AddPrimary registers an already-constructed client as worker index 0.
func (r *Registry) AddPrimary(client *gotgproto.Client) *Worker {
	w := &Worker{
		Index:     0,
		Client:    client,
		Self:      client.Self,
		HomeDC:    client.PeerStorage.GetDefaultDC(),
		StartTime: time.Now(),
		log:       r.log,
	}
	r.mu.Lock()
	r.nextIdx = 1
	r.mu.Unlock()
	r.register(w)
	r.log.Sugar().Infof("primary worker ready as @%s", w.Self.Username)
	return w
}

// StartPrimary logs in the primary bot and registers it as worker index 0.
// The primary is the client used for channel resolution and message lookups
// (FetchMessage); it is always included in download dispatch as well.
func (r *Registry) StartPrimary(token string) (*Worker, error) {
	client, err := r.startClient(token, 0)
	if err != nil {
		return nil, fmt.Errorf("start primary client: %w", err)
	}
	return r.AddPrimary(client), nil
}

// Spawn logs in a new worker bot with the given token and adds it to the
// registry.
func (r *Registry) Spawn(token string) error {
	r.mu.Lock()
	idx := r.nextIdx
	r.nextIdx++
	r.mu.Unlock()

	client, err := r.startClient(token, idx)
	if err != nil {
		return err
	}
	w := &Worker{
		Index:     idx,
		Client:    client,
		Self:      client.Self,
		HomeDC:    client.PeerStorage.GetDefaultDC(),
		StartTime: time.Now(),
		log:       r.log,
	}
	r.register(w)
	r.log.Sugar().Infof("worker #%d ready as @%s", idx, w.Self.Username)
	return nil
}

// register adds w to the registry, keeping r.workers sorted by Index:
// Spawn's network dial runs before the append, so concurrent StartWorkers
// calls can complete out of index order. Pick's lowest-index tie-break
// depends on that order matching ascending Index, not append order.
func (r *Registry) register(w *Worker) {
	r.mu.Lock()
	r.workers = append(r.workers, w)
	sort.Slice(r.workers, func(i, j int) bool { return r.workers[i].Index < r.workers[j].Index })
	r.mu.Unlock()
}

func (r *Registry) startClient(token string, idx uint32) (*gotgproto.Client, error) {
	var session sessionMaker.SessionConstructor
	if r.useSessionFile {
		if err := os.MkdirAll(filepath.Join(".", "sessions"), os.ModePerm); err != nil {
			return nil, fmt.Errorf("create sessions directory: %w", err)
		}
		session = sessionMaker.SqlSession(sqlite.Open(fmt.Sprintf("sessions/worker-%d.session", idx)))
	} else {
		session = sessionMaker.SimpleSession()
	}
	return gotgproto.NewClient(
		r.apiID,
		r.apiHash,
		gotgproto.ClientTypeBot(token),
		&gotgproto.ClientOpts{
			Session:          session,
			DisableCopyright: true,
			Middlewares:      GetFloodMiddleware(r.log),
		},
	)
}

// StartWorkers logs in every token concurrently, retrying failures up to
// maxRetries times with a fixed delay between rounds. It never returns an
// error: a worker bot that never comes up is logged and simply excluded
// from dispatch, matching the primary-plus-optional-workers topology.
func (r *Registry) StartWorkers(tokens []string, maxConcurrent int, perWorkerTimeout time.Duration) {
	if len(tokens) == 0 {
		return
	}
	const maxRetries = 3
	const retryDelay = 5 * time.Second

	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	if perWorkerTimeout <= 0 {
		perWorkerTimeout = 120 * time.Second
	}

	type result struct {
		token string
		err   error
	}
	startBatch := func(batch []string) []result {
		var wg sync.WaitGroup
		results := make([]result, len(batch))
		sem := make(chan struct{}, maxConcurrent)
		for i, token := range batch {
			wg.Add(1)
			go func(i int, token string) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				ctx, cancel := context.WithTimeout(context.Background(), perWorkerTimeout)
				defer cancel()

				done := make(chan error, 1)
				go func() { done <- r.Spawn(token) }()

				select {
				case err := <-done:
					results[i] = result{token: token, err: err}
				case <-ctx.Done():
					results[i] = result{token: token, err: fmt.Errorf("timed out after %s", perWorkerTimeout)}
				}
			}(i, token)
		}
		wg.Wait()
		return results
	}

	pending := tokens
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			r.log.Sugar().Infof("retrying %d worker(s), attempt %d/%d", len(pending), attempt, maxRetries)
			time.Sleep(retryDelay)
		}
		results := startBatch(pending)
		var failed []string
		for _, res := range results {
			if res.err != nil {
				r.log.Error("worker failed to start", zap.Error(res.err))
				failed = append(failed, res.token)
			}
		}
		pending = failed
		if len(pending) == 0 {
			break
		}
	}
	if len(pending) > 0 {
		r.log.Sugar().Warnf("%d worker(s) failed to start after %d retries", len(pending), maxRetries)
	}
}

// Primary returns worker index 0, or nil if it hasn't been added yet.
func (r *Registry) Primary() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.workers) == 0 {
		return nil
	}
	return r.workers[0]
}

// Pick returns the worker with the lowest current in-flight load, breaking
// ties toward the lowest index.
func (r *Registry) Pick() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.workers) == 0 {
		return nil
	}
	best := r.workers[0]
	bestLoad := best.Load.Load()
	for _, w := range r.workers[1:] {
		if load := w.Load.Load(); load < bestLoad {
			best, bestLoad = w, load
		}
	}
	return best
}

// Workers returns a snapshot of every registered worker.
func (r *Registry) Workers() []*Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Worker, len(r.workers))
	copy(out, r.workers)
	return out
}
