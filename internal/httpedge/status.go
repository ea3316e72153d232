package httpedge

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/silverlynx/tgfilelink/internal/utils"
)

// workerStatus is the per-worker slice of the /status response.
type workerStatus struct {
	Index          uint32  `json:"index"`
	Username       string  `json:"username"`
	HomeDC         int     `json:"home_dc"`
	ActiveLoad     int32   `json:"active_load"`
	TotalRequests  int64   `json:"total_requests"`
	FailedRequests int64   `json:"failed_requests"`
	SuccessRate    float64 `json:"success_rate"`
	Uptime         string  `json:"uptime"`
}

type statusResponse struct {
	TotalWorkers  int            `json:"total_workers"`
	TotalLoad     int32          `json:"total_active_load"`
	TotalRequests int64          `json:"total_requests"`
	Workers       []workerStatus `json:"workers"`
	Timestamp     time.Time      `json:"timestamp"`
}

func (e *allRoutes) LoadStatus(r *Route) {
	log := e.log.Named("Status")
	defer log.Info("loaded status route")
	r.Engine.GET("/status", e.statusHandler(log))
}

func (e *allRoutes) statusHandler(_ *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		workers := e.runtime.Registry.Workers()
		now := time.Now()

		statuses := make([]workerStatus, 0, len(workers))
		var totalLoad int32
		var totalRequests int64
		for _, w := range workers {
			total := w.TotalRequests.Load()
			failed := w.FailedRequests.Load()
			load := w.Load.Load()
			totalLoad += load
			totalRequests += total

			successRate := 100.0
			if total > 0 {
				successRate = float64(total-failed) / float64(total) * 100
			}
			username := ""
			if w.Self != nil {
				username = w.Self.Username
			}
			statuses = append(statuses, workerStatus{
				Index:          w.Index,
				Username:       username,
				HomeDC:         w.HomeDC,
				ActiveLoad:     load,
				TotalRequests:  total,
				FailedRequests: failed,
				SuccessRate:    successRate,
				Uptime:         utils.TimeFormat(uint64(now.Sub(w.StartTime).Seconds())),
			})
		}

		ctx.JSON(http.StatusOK, statusResponse{
			TotalWorkers:  len(workers),
			TotalLoad:     totalLoad,
			TotalRequests: totalRequests,
			Workers:       statuses,
			Timestamp:     now,
		})
	}
}
