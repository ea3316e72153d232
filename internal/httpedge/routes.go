// Package httpedge is the public HTTP surface of the gateway: the root
// status page, the /dl download route, and the /status worker dashboard.
package httpedge

import (
	"reflect"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/silverlynx/tgfilelink/internal/bot"
	"github.com/silverlynx/tgfilelink/internal/properties"
	"github.com/silverlynx/tgfilelink/internal/stream"
)

// Runtime bundles everything a route handler needs to serve a request.
type Runtime struct {
	Registry   *bot.Registry
	Properties *properties.Cache
	Streamer   *stream.Streamer
	BaseURL    string
	Version    string
	StartTime  time.Time
}

type Route struct {
	Name   string
	Engine *gin.Engine
}

func (r *Route) Init(engine *gin.Engine) {
	r.Engine = engine
}

type allRoutes struct {
	log     *zap.Logger
	runtime *Runtime
}

// Load registers every route method (LoadRoot, LoadDownload, LoadStatus) on
// r, discovered by reflection so new route files need no extra wiring here.
func Load(log *zap.Logger, r *gin.Engine, runtime *Runtime) {
	log = log.Named("httpedge")
	defer log.Sugar().Info("loaded all routes")

	route := &Route{Name: "/", Engine: r}
	route.Init(r)
	all := &allRoutes{log: log, runtime: runtime}

	t := reflect.TypeOf(all)
	v := reflect.ValueOf(all)
	for i := 0; i < t.NumMethod(); i++ {
		t.Method(i).Func.Call([]reflect.Value{v, reflect.ValueOf(route)})
	}
}

// LoadStatusOnly registers just the /status route, for running worker
// telemetry on its own port separate from the download traffic.
func LoadStatusOnly(log *zap.Logger, r *gin.Engine, runtime *Runtime) {
	log = log.Named("httpedge")
	defer log.Sugar().Info("loaded status route")
	route := &Route{Name: "/", Engine: r}
	route.Init(r)
	all := &allRoutes{log: log, runtime: runtime}
	all.LoadStatus(route)
}
