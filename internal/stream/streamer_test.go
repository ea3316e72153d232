package stream

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/gotd/td/tg"

	"github.com/silverlynx/tgfilelink/internal/bot"
)

// fakeFileClient stands in for a worker's raw upload.getFile RPC: it serves
// chunks out of an in-memory slice and can be told to fail the first few
// calls, to exercise fetchChunk's retry policy.
type fakeFileClient struct {
	chunks     [][]byte
	failFirst  int
	attempts   int
	successIdx int
}

func (f *fakeFileClient) UploadGetFile(ctx context.Context, request *tg.UploadGetFileRequest) (tg.UploadFileClass, error) {
	f.attempts++
	if f.failFirst > 0 {
		f.failFirst--
		return nil, errors.New("transient upstream error")
	}
	idx := f.successIdx
	f.successIdx++
	if idx >= len(f.chunks) {
		return &tg.UploadFile{Bytes: nil}, nil
	}
	return &tg.UploadFile{Bytes: f.chunks[idx]}, nil
}

func newTestChunkReader(api rawFileClient, worker *bot.Worker, partCount, firstCut, lastCut int64) *chunkReader {
	return &chunkReader{
		ctx:          context.Background(),
		api:          api,
		location:     &tg.InputDocumentFileLocation{},
		offset:       0,
		chunkSize:    ChunkSize,
		partCount:    partCount,
		firstPartCut: firstCut,
		lastPartCut:  lastCut,
		worker:       worker,
	}
}

func readAll(t *testing.T, r *chunkReader) []byte {
	t.Helper()
	var got []byte
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		got = append(got, buf[:n]...)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.Fatalf("Read() error = %v", err)
			}
			break
		}
	}
	return got
}

func TestChunkReaderReadsSingleAlignedPart(t *testing.T) {
	data := make([]byte, ChunkSize)
	for i := range data {
		data[i] = byte(i % 251)
	}
	fake := &fakeFileClient{chunks: [][]byte{data}}
	r := newTestChunkReader(fake, &bot.Worker{}, 1, 0, ChunkSize)

	got := readAll(t, r)
	if len(got) != len(data) {
		t.Fatalf("read %d bytes, want %d", len(got), len(data))
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("byte %d mismatch: got %d, want %d", i, got[i], data[i])
		}
	}
}

func TestChunkReaderTrimsStraddlingParts(t *testing.T) {
	const partSize = int(ChunkSize)
	const firstCut = int64(100)
	const lastCut = int64(50)

	part1 := make([]byte, partSize)
	part2 := make([]byte, partSize)
	for i := range part1 {
		part1[i] = 1
	}
	for i := range part2 {
		part2[i] = 2
	}
	fake := &fakeFileClient{chunks: [][]byte{part1, part2}}
	r := newTestChunkReader(fake, &bot.Worker{}, 2, firstCut, lastCut)

	got := readAll(t, r)

	wantLen := int(int64(partSize) - firstCut + lastCut)
	if len(got) != wantLen {
		t.Fatalf("read %d bytes, want %d", len(got), wantLen)
	}

	firstSegment := partSize - int(firstCut)
	for i := 0; i < firstSegment; i++ {
		if got[i] != 1 {
			t.Fatalf("byte %d should come from part1: got %d", i, got[i])
		}
	}
	for i := firstSegment; i < len(got); i++ {
		if got[i] != 2 {
			t.Fatalf("byte %d should come from part2: got %d", i, got[i])
		}
	}
}

func TestChunkReaderRetriesTransientFailuresThenSucceeds(t *testing.T) {
	data := make([]byte, ChunkSize)
	fake := &fakeFileClient{chunks: [][]byte{data}, failFirst: chunkRetries}
	r := newTestChunkReader(fake, &bot.Worker{}, 1, 0, ChunkSize)

	buf := make([]byte, len(data))
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Read() error after %d transient failures: %v", chunkRetries, err)
	}
	if n != len(data) {
		t.Fatalf("Read() = %d bytes, want %d", n, len(data))
	}
	if fake.attempts != chunkRetries+1 {
		t.Errorf("fetchChunk made %d attempts, want %d", fake.attempts, chunkRetries+1)
	}
}

func TestChunkReaderFailsAfterExhaustingRetries(t *testing.T) {
	fake := &fakeFileClient{chunks: [][]byte{make([]byte, ChunkSize)}, failFirst: chunkRetries + 1}
	r := newTestChunkReader(fake, &bot.Worker{}, 1, 0, ChunkSize)

	_, err := r.Read(make([]byte, ChunkSize))
	if err == nil {
		t.Fatal("Read() error = nil, want ErrUpstreamTimeout after exhausting retries")
	}
	if !errors.Is(err, ErrUpstreamTimeout) {
		t.Errorf("Read() error = %v, want wrapping ErrUpstreamTimeout", err)
	}
}

// TestChunkReaderCloseDecrementsLoadExactlyOnce covers load-accounting
// symmetry: Close must release the load Open added, once, even if called
// more than once.
func TestChunkReaderCloseDecrementsLoadExactlyOnce(t *testing.T) {
	worker := &bot.Worker{}
	worker.Load.Store(1)
	r := newTestChunkReader(&fakeFileClient{}, worker, 1, 0, ChunkSize)

	r.Close()
	r.Close()

	if got := worker.Load.Load(); got != 0 {
		t.Errorf("worker.Load after double Close() = %d, want 0", got)
	}
}

func TestChunkReaderEmptyFinalChunkEndsReadEarly(t *testing.T) {
	fake := &fakeFileClient{chunks: [][]byte{{}}}
	r := newTestChunkReader(fake, &bot.Worker{}, 1, 0, ChunkSize)

	n, err := r.Read(make([]byte, 16))
	if n != 0 || !errors.Is(err, io.EOF) {
		t.Fatalf("Read() on empty upstream chunk = (%d, %v), want (0, io.EOF)", n, err)
	}
}
