package web

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/koasocial/koasocial/activitypub"
	"github.com/koasocial/koasocial/db"
	"github.com/koasocial/koasocial/util"
)

// HandleWebFinger answers acct: lookups for local accounts.
func HandleWebFinger(c *gin.Context, conf *util.AppConfig) {
	c.Header("Content-Type", "application/jrd+json; charset=utf-8")

	username, ok := parseWebFingerResource(c.Query("resource"), conf.Conf.SslDomain)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}

	err, acc := db.GetDB().ReadAccByUsername(username)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}

	actorURI := "https://" + conf.Conf.SslDomain + "/users/" + acc.Username
	c.JSON(http.StatusOK, activitypub.WebFingerResponse{
		Subject: "acct:" + acc.Username + "@" + conf.Conf.SslDomain,
		Links: []activitypub.WebFingerLink{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: actorURI,
			},
		},
	})
}

// parseWebFingerResource extracts the local username from an acct:
// resource. Lookups for foreign domains resolve to nothing here.
func parseWebFingerResource(resource string, domainName string) (string, bool) {
	if !strings.HasPrefix(resource, "acct:") {
		return "", false
	}

	handle := strings.TrimPrefix(resource, "acct:")
	parts := strings.Split(handle, "@")
	if len(parts) != 2 || parts[0] == "" {
		return "", false
	}
	if parts[1] != domainName {
		return "", false
	}

	return parts[0], true
}
