package api

import (
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"prompt2web_server/internal/metrics"
	"prompt2web_server/internal/tracer"
)

// ServerOptions configure the engine built by NewEngine.
type ServerOptions struct {
	Production     bool
	AllowedOrigins []string
	Tracing        bool
	ServiceName    string
}

// NewEngine builds the gin engine with the shared middleware stack and all
// routes registered.
func NewEngine(opts ServerOptions, h *APIHandler) *gin.Engine {
	if opts.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(CORS(opts.AllowedOrigins))
	if opts.Tracing {
		router.Use(otelgin.Middleware(opts.ServiceName), TraceHeader())
	}
	router.Use(Metrics())

	RegisterRoutes(router, h)
	return router
}

// CORS allows the web client to call the API and read the SSE streams.
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", accountHeader},
		ExposeHeaders: []string{"Content-Security-Policy"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

// TraceHeader echoes the request's trace id so clients can quote it.
func TraceHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := tracer.TraceID(c.Request.Context()); id != "" {
			c.Header("X-Trace-ID", id)
		}
		c.Next()
	}
}

// Metrics records request counts and latency per route.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		method := c.Request.Method
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
