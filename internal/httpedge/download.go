package httpedge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	rangeparser "github.com/quantumsheep/range-parser"
	"go.uber.org/zap"

	"github.com/silverlynx/tgfilelink/internal/codec"
	"github.com/silverlynx/tgfilelink/internal/properties"
	"github.com/silverlynx/tgfilelink/internal/stream"
	"github.com/silverlynx/tgfilelink/internal/types"
)

var (
	errBadToken  = errors.New("bad token")
	errIntegrity = errors.New("integrity mismatch")
	errNoWorkers = errors.New("no workers available")
)

func (e *allRoutes) LoadDownload(r *Route) {
	log := e.log.Named("Download")
	defer log.Info("loaded download route")
	handler := e.downloadHandler(log)
	r.Engine.GET("/dl/:token/:name", handler)
	r.Engine.HEAD("/dl/:token/:name", handler)
}

func (e *allRoutes) downloadHandler(log *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token := ctx.Param("token")
		payload, err := codec.Decode(token)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errBadToken.Error()})
			return
		}
		archiveID, err := codec.DenormalizeArchiveID(payload.ChatID)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errBadToken.Error()})
			return
		}

		primary := e.runtime.Registry.Primary()
		if primary == nil {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": errNoWorkers.Error()})
			return
		}

		worker := e.runtime.Registry.Pick()
		if worker == nil {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": errNoWorkers.Error()})
			return
		}
		worker.RecordStart()

		bgCtx := context.Background()

		// Always re-fetched via the primary client: cheap existence check and
		// the source of truth for the integrity prefix below.
		liveMsg, err := primary.FetchMessage(bgCtx, archiveID, payload.MsgID)
		if err != nil {
			worker.RecordEnd(true)
			ctx.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		integrityPrefix, err := types.IntegrityPrefix(liveMsg)
		if err != nil {
			worker.RecordEnd(true)
			ctx.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}

		key := properties.Key{ArchiveID: archiveID, MessageID: payload.MsgID}
		identity, err := e.runtime.Properties.Resolve(bgCtx, worker.Index, worker, key)
		if err != nil {
			worker.RecordEnd(true)
			log.Warn("identity resolve failed", zap.String("token", token), zap.Error(err))
			ctx.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if identity.IntegrityPrefix() != integrityPrefix {
			worker.RecordEnd(true)
			ctx.JSON(http.StatusForbidden, gin.H{"error": errIntegrity.Error()})
			return
		}

		size := int64(identity.FileSize)
		status, start, end, ok := negotiateRange(size, ctx.GetHeader("Range"))
		if !ok {
			worker.RecordEnd(true)
			ctx.Header("Content-Range", fmt.Sprintf("bytes */%d", size))
			ctx.AbortWithStatus(http.StatusRequestedRangeNotSatisfiable)
			return
		}

		geo := stream.Compute(size, start, end, stream.ChunkSize)

		filename := resolveFilename(ctx.Param("name"), identity.FileName, identity.MimeType)
		mimeType := resolveMimeType(identity.MimeType, filename)

		writeRangeHeaders(ctx, status, start, end, size, filename, mimeType, geo.ReqLength)

		log.Debug("serving range",
			zap.String("file", filename),
			zap.String("size", humanize.Bytes(uint64(size))),
			zap.Int64("start", start), zap.Int64("end", end),
		)

		if ctx.Request.Method == http.MethodHead {
			worker.RecordEnd(false)
			return
		}

		reader, err := e.runtime.Streamer.Open(bgCtx, worker, identity, geo)
		if err != nil {
			worker.RecordEnd(true)
			log.Error("failed to open stream", zap.Error(err))
			return
		}
		defer reader.Close()

		if _, err := io.CopyN(ctx.Writer, reader, geo.ReqLength); err != nil && !errors.Is(err, io.EOF) {
			worker.RecordEnd(true)
			log.Warn("stream truncated", zap.Error(err))
			return
		}
		worker.RecordEnd(false)
	}
}

// negotiateRange decides the response status and inclusive byte range for a
// download, given the resource size and the request's raw Range header
// (empty for a full-file request). ok is false when the range cannot be
// satisfied, in which case the caller must answer 416 instead.
func negotiateRange(size int64, rangeHeader string) (status int, start, end int64, ok bool) {
	if rangeHeader == "" {
		return http.StatusOK, 0, size - 1, true
	}
	ranges, err := rangeparser.Parse(size, rangeHeader)
	if err != nil || len(ranges) == 0 {
		return 0, 0, 0, false
	}
	start, end = ranges[0].Start, ranges[0].End
	if start < 0 || end < start || end > size-1 {
		return 0, 0, 0, false
	}
	return http.StatusPartialContent, start, end, true
}

// writeRangeHeaders sets every response header for a download. Content-Range
// and Content-Length are only meaningful for a 206: a 200 is served over
// chunked transfer encoding and must not carry a Content-Length, or clients
// treat the full-file body as truncated the moment it exceeds that value.
func writeRangeHeaders(ctx *gin.Context, status int, start, end, size int64, filename, mimeType string, reqLength int64) {
	ctx.Header("Accept-Ranges", "bytes")
	ctx.Header("Cache-Control", "public, max-age=3600, immutable")
	ctx.Header("Access-Control-Allow-Origin", "*")
	ctx.Header("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")
	ctx.Header("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, filename))
	ctx.Header("Content-Type", mimeType)
	if status == http.StatusPartialContent {
		ctx.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		ctx.Header("Content-Length", strconv.FormatInt(reqLength, 10))
	}
	ctx.Status(status)
}

func resolveFilename(requested, stored, mimeType string) string {
	if stored != "" {
		return stored
	}
	if requested != "" && requested != "file" {
		return requested
	}
	ext := "unknown"
	if parts := strings.SplitN(mimeType, "/", 2); len(parts) == 2 && parts[1] != "" {
		ext = parts[1]
	}
	return fmt.Sprintf("%s.%s", uuid.New().String()[:8], ext)
}

func resolveMimeType(stored, filename string) string {
	if stored != "" {
		return stored
	}
	if guessed := mime.TypeByExtension(filepath.Ext(filename)); guessed != "" {
		return guessed
	}
	return "application/octet-stream"
}
