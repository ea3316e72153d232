package httpedge

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/silverlynx/tgfilelink/internal/utils"
)

func (e *allRoutes) LoadRoot(r *Route) {
	log := e.log.Named("Root")
	defer log.Info("loaded root route")
	r.Engine.GET("/", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"bot":       e.botIdentity(),
			"version":   e.runtime.Version,
			"uptime":    utils.TimeFormat(uint64(time.Since(e.runtime.StartTime).Seconds())),
			"endpoints": rootEndpoints,
		})
	})
}

// rootEndpoints documents the gateway's public HTTP surface.
var rootEndpoints = gin.H{
	"download": "/dl/:token/:name",
	"status":   "/status",
}

// botIdentity reports the primary worker's username, or "" before it has
// logged in.
func (e *allRoutes) botIdentity() string {
	primary := e.runtime.Registry.Primary()
	if primary == nil || primary.Self == nil {
		return ""
	}
	return primary.Self.Username
}
