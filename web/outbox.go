package web

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/koasocial/koasocial/activitypub"
	"github.com/koasocial/koasocial/db"
	"github.com/koasocial/koasocial/util"
)

// HandleOutbox serves the outbox of a local account: the summary without a
// page parameter, a cursor-bounded page with one.
func HandleOutbox(c *gin.Context, conf *util.AppConfig) {
	c.Header("Content-Type", activityJSONContentType)

	actor := c.Param("actor")
	database := db.GetDB()
	if err, _ := database.ReadAccByUsername(actor); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	wrapped := activitypub.NewDBWrapper()

	if c.Query("page") != "true" {
		collection, err := activitypub.BuildOutbox(wrapped, actor, conf.Conf.SslDomain)
		if err != nil {
			log.Printf("Web: Failed to build outbox for %s: %v", actor, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
			return
		}
		c.JSON(http.StatusOK, collection)
		return
	}

	maxId, ok := parseCursorParam(c.Query("max_id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid max_id"})
		return
	}
	minId, ok := parseCursorParam(c.Query("min_id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid min_id"})
		return
	}

	page, err := activitypub.BuildOutboxPage(wrapped, actor, conf.Conf.SslDomain, maxId, minId)
	if err != nil {
		log.Printf("Web: Failed to build outbox page for %s: %v", actor, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(http.StatusOK, page)
}

// parseCursorParam turns a max_id/min_id query value into a cursor. The
// literal "0" marks the far end of the collection and maps to the zero id.
func parseCursorParam(value string) (*uuid.UUID, bool) {
	if value == "" {
		return nil, true
	}
	if value == "0" {
		zero := uuid.Nil
		return &zero, true
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil, false
	}
	return &id, true
}
