package web

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/koasocial/koasocial/activitypub"
	"github.com/koasocial/koasocial/db"
	"github.com/koasocial/koasocial/domain"
	"github.com/koasocial/koasocial/util"
)

const activityJSONContentType = "application/activity+json; charset=utf-8"

// HandleActor serves the actor document of a local account. The signing
// keypair is provisioned on first request, a failure there means the
// document cannot be served at all.
func HandleActor(c *gin.Context, conf *util.AppConfig) {
	c.Header("Content-Type", activityJSONContentType)

	err, acc := db.GetDB().ReadAccByUsername(c.Param("actor"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	keyPair, err := activitypub.GetOrCreateKeyPair(activitypub.NewDBWrapper(), acc.Id)
	if err != nil {
		log.Printf("Web: Failed to provision keypair for %s: %v", acc.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	doc := activitypub.BuildActorDocument(acc, keyPair.PublicKeyPem, conf.Conf.SslDomain)
	c.JSON(http.StatusOK, doc)
}

// HandleNote serves a single public note as an ActivityPub object.
func HandleNote(c *gin.Context, conf *util.AppConfig) {
	c.Header("Content-Type", activityJSONContentType)

	noteId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid note ID"})
		return
	}

	err, note := db.GetDB().ReadNoteId(noteId)
	if err != nil || note.Visibility == domain.VisibilityPrivate {
		c.JSON(http.StatusNotFound, gin.H{"error": "Note not found"})
		return
	}

	c.JSON(http.StatusOK, buildNoteObject(note, conf.Conf.SslDomain))
}

// buildNoteObject wraps a note the same way the outbox does, with id and
// addressing derived from the note row.
func buildNoteObject(note *domain.Note, domainName string) gin.H {
	noteURI := "https://" + domainName + "/notes/" + note.Id.String()
	actorURI := "https://" + domainName + "/users/" + note.CreatedBy
	followersURI := actorURI + "/followers"

	obj := gin.H{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           noteURI,
		"type":         "Note",
		"attributedTo": actorURI,
		"content":      note.Message,
		"published":    note.CreatedAt.UTC().Format(time.RFC3339),
	}

	if note.Visibility == domain.VisibilityUnlisted {
		obj["to"] = []string{followersURI}
		obj["cc"] = []string{"https://www.w3.org/ns/activitystreams#Public"}
	} else {
		obj["to"] = []string{"https://www.w3.org/ns/activitystreams#Public"}
		obj["cc"] = []string{followersURI}
	}

	if note.InReplyToURI != "" {
		obj["inReplyTo"] = note.InReplyToURI
	}

	return obj
}

// HandleFollowers serves a counts-only followers collection.
func HandleFollowers(c *gin.Context, conf *util.AppConfig) {
	serveFollowCollection(c, conf, domain.FollowIncoming, "followers")
}

// HandleFollowing serves a counts-only following collection.
func HandleFollowing(c *gin.Context, conf *util.AppConfig) {
	serveFollowCollection(c, conf, domain.FollowOutgoing, "following")
}

func serveFollowCollection(c *gin.Context, conf *util.AppConfig, direction string, suffix string) {
	c.Header("Content-Type", activityJSONContentType)

	database := db.GetDB()
	err, acc := database.ReadAccByUsername(c.Param("actor"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	err, count := database.CountFollows(acc.Id, direction, domain.FollowAccepted)
	if err != nil {
		log.Printf("Web: Failed to count %s for %s: %v", suffix, acc.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         "https://" + conf.Conf.SslDomain + "/users/" + acc.Username + "/" + suffix,
		"type":       "OrderedCollection",
		"totalItems": count,
	})
}
