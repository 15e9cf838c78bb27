package router

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/psds-microservice/helpy/paths"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/psds-microservice/support-chat/api"
	"github.com/psds-microservice/support-chat/internal/auth"
	"github.com/psds-microservice/support-chat/internal/handler"
	"github.com/psds-microservice/support-chat/pkg/metrics"
)

const (
	PathMetrics = "/metrics"
	PathMedia   = "/media"

	HeaderRequestID = "X-Request-ID"
)

// Deps is what the HTTP surface is built from.
type Deps struct {
	Support   *handler.SupportHandler
	JWTSecret string
	MediaDir  string
	Ready     func() error
}

func New(d Deps) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestMetrics())
	r.GET(paths.PathHealth, handler.Health)
	r.GET(paths.PathReady, handler.Ready(d.Ready))
	r.GET(PathMetrics, gin.WrapH(promhttp.Handler()))
	r.GET(paths.PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, paths.PathSwagger+"/") })
	r.GET(paths.PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = paths.PathSwagger + "/index.html"
			c.Request.RequestURI = paths.PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL(paths.PathSwagger+"/openapi.json"))(c)
	})
	if d.MediaDir != "" {
		r.Static(PathMedia, d.MediaDir)
	}

	// Browsers cannot set headers on a socket upgrade, so sockets carry the token in the query.
	r.GET("/api/support/ws/queue", d.Support.QueueSocket)
	r.GET("/api/support/ws/:id", d.Support.TicketSocket)

	s := r.Group("/api/support", auth.Middleware(d.JWTSecret), d.Support.TrackUser)
	{
		s.POST("/tickets", d.Support.CreateTicket)
		s.GET("/tickets/my", d.Support.MyTickets)
		s.GET("/tickets/operator/list", d.Support.OperatorTickets)
		s.GET("/tickets/:id", d.Support.TicketInfo)
		s.GET("/tickets/:id/messages", d.Support.TicketMessages)
		s.POST("/tickets/:id/messages", d.Support.PostMessage)
		s.POST("/tickets/:id/assign", d.Support.AssignTicket)
		s.POST("/tickets/:id/close", d.Support.CloseTicket)
		s.DELETE("/tickets/:id/messages/:msgId", d.Support.DeleteMessage)
	}

	return r
}

// requestMetrics observes every request by its route template, so ticket ids
// do not explode the label set.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}

// requestID echoes the caller's X-Request-ID or assigns a fresh one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}
