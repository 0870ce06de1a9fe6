package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/koasocial/koasocial/activitypub"
	"github.com/koasocial/koasocial/util"
)

// maxActivitySize bounds inbox request bodies.
const maxActivitySize = 1 * 1024 * 1024

// NewRouter builds the HTTP surface: federation endpoints, the local
// action API, the RSS projection and Prometheus metrics.
func NewRouter(conf *util.AppConfig) *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	g.GET("/metrics", MetricsHandler())

	// RSS projection of public notes
	g.GET("/feed", func(c *gin.Context) {
		HandleFeed(c, conf)
	})
	g.GET("/feed/:id", func(c *gin.Context) {
		HandleFeedItem(c, conf)
	})

	if conf.Conf.WithAp {
		maxBodySize := MaxBytesMiddleware(maxActivitySize)

		g.GET("/.well-known/webfinger", func(c *gin.Context) {
			HandleWebFinger(c, conf)
		})

		g.GET("/users/:actor", func(c *gin.Context) {
			HandleActor(c, conf)
		})

		g.POST("/users/:actor/inbox", maxBodySize, func(c *gin.Context) {
			actor := c.Param("actor")
			handleInboxWithMetrics(c, actor, conf)
		})

		// Shared inbox: the target account comes out of the activity itself.
		g.POST("/inbox", maxBodySize, func(c *gin.Context) {
			handleInboxWithMetrics(c, "", conf)
		})

		g.GET("/users/:actor/outbox", func(c *gin.Context) {
			HandleOutbox(c, conf)
		})

		g.GET("/users/:actor/followers", func(c *gin.Context) {
			HandleFollowers(c, conf)
		})

		g.GET("/users/:actor/following", func(c *gin.Context) {
			HandleFollowing(c, conf)
		})

		g.GET("/notes/:id", func(c *gin.Context) {
			HandleNote(c, conf)
		})
	}

	// Local action API, token guarded.
	api := g.Group("/api", TokenAuthMiddleware(conf))
	api.POST("/follow", func(c *gin.Context) {
		HandleFollowAction(c, conf)
	})
	api.POST("/accounts", func(c *gin.Context) {
		HandleCreateAccount(c, conf)
	})
	api.PATCH("/accounts/:username", func(c *gin.Context) {
		HandleUpdateProfile(c, conf)
	})
	api.POST("/notes", func(c *gin.Context) {
		HandleCreateNote(c, conf)
	})

	return g
}

func handleInboxWithMetrics(c *gin.Context, actor string, conf *util.AppConfig) {
	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.Status(http.StatusRequestEntityTooLarge)
		} else {
			c.Status(http.StatusBadRequest)
		}
		return
	}

	var envelope struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(body, &envelope)

	req := c.Request.Clone(c.Request.Context())
	req.Body = io.NopCloser(bytes.NewReader(body))
	activitypub.HandleInbox(c.Writer, req, actor, conf)
	ObserveInbox(envelope.Type, c.Writer.Status())
}

// Router starts the HTTP server and blocks.
func Router(conf *util.AppConfig) error {
	log.Printf("Web: Starting server on %s:%d", conf.Conf.Host, conf.Conf.HttpPort)
	g := NewRouter(conf)
	return g.Run(fmt.Sprintf(":%d", conf.Conf.HttpPort))
}
