package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/psds-microservice/bridge-relay/internal/auth"
	"github.com/psds-microservice/bridge-relay/internal/handler"
	"github.com/psds-microservice/bridge-relay/pkg/constants"
	"go.uber.org/zap"
)

// Handlers groups the HTTP handlers mounted by New.
type Handlers struct {
	Health  *handler.HealthHandler
	Control *handler.BridgeWSHandler
	Upload  *handler.UploadHandler
	Stream  *handler.StreamHandler
	Bridges *handler.BridgeHandler
}

// Options configures New.
type Options struct {
	Logger         *zap.Logger
	Gatherer       prometheus.Gatherer // nil disables /metrics
	OwnerJWTSecret []byte
}

// New builds the HTTP router.
func New(h Handlers, opts Options) http.Handler {
	r := gin.New()
	// Route on the escaped path so an encoded "/" stays inside a single parameter.
	r.UseRawPath = true
	r.Use(gin.Recovery())
	if opts.Logger != nil {
		r.Use(handler.RequestLogger(opts.Logger))
	}

	r.GET(constants.PathHealth, h.Health.Health)
	r.GET(constants.PathReady, h.Health.Ready)
	if opts.Gatherer != nil {
		r.GET(constants.PathMetrics, gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	// Bridge agents and viewers
	r.GET(constants.PathBridgeWS, h.Control.ServeWS)
	r.POST(constants.PathUploadSegment, h.Upload.UploadSegment)
	r.POST(constants.PathUploadFile, h.Upload.UploadFile)
	r.GET(constants.PathBridgeList, h.Bridges.ListConnected)
	r.GET("/bridge/stream/:bridgeId/:cameraId/:file", h.Stream.Serve)
	r.POST("/bridge/:bridgeId/command", h.Bridges.SendCommand)

	// Owner provisioning
	bridges := r.Group("/bridges", auth.OwnerMiddleware(opts.OwnerJWTSecret))
	{
		bridges.POST("", h.Bridges.Create)
		bridges.GET("", h.Bridges.List)
		bridges.GET("/:bridgeId/config", h.Bridges.Config)
	}

	return r
}
