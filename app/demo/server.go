package demo

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const contentType = "application/rss+xml; charset=utf-8"

// NewServer creates the feed generator HTTP server
func NewServer(generator *Generator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
			)
		},
	}))
	r.Use(gin.Recovery())

	r.GET("/feed/:number/", feedHandler(generator))

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	return r
}

func feedHandler(generator *Generator) gin.HandlerFunc {
	return func(c *gin.Context) {
		number := c.Param("number")
		if !isNumber(number) {
			c.String(http.StatusNotFound, "feed not found")
			return
		}

		slog.Debug("Got request for feed", "number", number)

		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		selfURL := fmt.Sprintf("%s://%s%s", scheme, c.Request.Host, c.Request.URL.Path)

		c.Data(http.StatusOK, contentType, []byte(generator.Run(number, selfURL)))
	}
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
