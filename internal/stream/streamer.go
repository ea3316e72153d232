package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"github.com/silverlynx/tgfilelink/internal/bot"
	"github.com/silverlynx/tgfilelink/internal/types"
)

// ErrUpstreamTimeout wraps chunk fetch failures that survive every retry.
var ErrUpstreamTimeout = errors.New("upstream timeout")

const (
	chunkRetries    = 2 // 3 total attempts
	chunkRetryDelay = time.Second
	chunkDeadline   = 15 * time.Second
)

// Streamer opens chunk-aligned readers against archived media, dispatching
// the underlying upload.getFile calls through a worker's (possibly
// cross-datacenter) media session.
type Streamer struct {
	registry *bot.Registry
	log      *zap.Logger
}

// NewStreamer builds a Streamer backed by registry.
func NewStreamer(registry *bot.Registry, log *zap.Logger) *Streamer {
	return &Streamer{registry: registry, log: log.Named("stream")}
}

// Open increments worker's load immediately, resolves the file location,
// and returns a reader that issues chunk-aligned requests lazily as it is
// read. The caller must Close the returned reader exactly once; Close
// decrements the load regardless of how much was read.
func (s *Streamer) Open(ctx context.Context, worker *bot.Worker, identity *types.FileIdentity, geo Geometry) (io.ReadCloser, error) {
	worker.Load.Add(1)
	release := func() { worker.Load.Add(-1) }

	api, err := s.registry.MediaSession(ctx, worker, identity.DatacenterID)
	if err != nil {
		release()
		return nil, err
	}
	location, err := LocationFor(identity)
	if err != nil {
		release()
		return nil, err
	}
	return &chunkReader{
		ctx:          ctx,
		api:          api,
		location:     location,
		offset:       geo.Offset,
		chunkSize:    geo.ChunkSize,
		partCount:    geo.PartCount,
		firstPartCut: geo.FirstPartCut,
		lastPartCut:  geo.LastPartCut,
		worker:       worker,
		log:          s.log,
	}, nil
}

// rawFileClient is the sliver of *tg.Client that chunkReader actually calls,
// narrowed to an interface so its retry/trim logic can be exercised against
// a fake in tests without a live MTProto connection.
type rawFileClient interface {
	UploadGetFile(ctx context.Context, request *tg.UploadGetFileRequest) (tg.UploadFileClass, error)
}

type chunkReader struct {
	ctx          context.Context
	api          rawFileClient
	location     tg.InputFileLocationClass
	offset       int64
	chunkSize    int64
	partCount    int64
	currentPart  int64
	firstPartCut int64
	lastPartCut  int64
	buf          []byte
	worker       *bot.Worker
	closeOnce    sync.Once
	log          *zap.Logger
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.currentPart >= r.partCount {
			return 0, io.EOF
		}
		chunk, err := r.fetchChunk()
		if err != nil {
			return 0, err
		}
		r.currentPart++
		if len(chunk) == 0 {
			r.currentPart = r.partCount
			return 0, io.EOF
		}
		r.buf = trim(chunk, r.currentPart, r.partCount, r.firstPartCut, r.lastPartCut)
		r.offset += r.chunkSize
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *chunkReader) Close() error {
	r.closeOnce.Do(func() { r.worker.Load.Add(-1) })
	return nil
}

func trim(chunk []byte, part, partCount, firstCut, lastCut int64) []byte {
	switch {
	case partCount == 1:
		return sliceSafe(chunk, firstCut, lastCut)
	case part == 1:
		return sliceSafe(chunk, firstCut, int64(len(chunk)))
	case part == partCount:
		return sliceSafe(chunk, 0, lastCut)
	default:
		return chunk
	}
}

func sliceSafe(b []byte, lo, hi int64) []byte {
	if lo < 0 {
		lo = 0
	}
	if hi > int64(len(b)) {
		hi = int64(len(b))
	}
	if lo >= hi {
		return nil
	}
	return b[lo:hi]
}

func (r *chunkReader) fetchChunk() ([]byte, error) {
	var result []byte
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(r.ctx, chunkDeadline)
		defer cancel()
		res, err := r.api.UploadGetFile(attemptCtx, &tg.UploadGetFileRequest{
			Location: r.location,
			Offset:   r.offset,
			Limit:    int(r.chunkSize),
		})
		if err != nil {
			return err
		}
		f, ok := res.(*tg.UploadFile)
		if !ok {
			return backoff.Permanent(fmt.Errorf("unexpected upload.getFile response %T", res))
		}
		result = f.Bytes
		return nil
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(chunkRetryDelay), chunkRetries)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	return result, nil
}
