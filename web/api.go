package web

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/koasocial/koasocial/activitypub"
	"github.com/koasocial/koasocial/db"
	"github.com/koasocial/koasocial/domain"
	"github.com/koasocial/koasocial/util"
)

type followActionRequest struct {
	Username string `json:"username" binding:"required"`
	Target   string `json:"target" binding:"required"`
	Action   string `json:"action"`
}

type createAccountRequest struct {
	Username    string `json:"username" binding:"required"`
	DisplayName string `json:"displayName"`
}

type createNoteRequest struct {
	Username   string `json:"username" binding:"required"`
	Message    string `json:"message" binding:"required"`
	Visibility string `json:"visibility"`
	InReplyTo  string `json:"inReplyTo"`
}

type updateProfileRequest struct {
	DisplayName *string `json:"displayName"`
	Summary     *string `json:"summary"`
	AvatarURL   *string `json:"avatarUrl"`
	BannerURL   *string `json:"bannerUrl"`
}

// HandleFollowAction follows or unfollows a remote actor on behalf of a
// local account. Target is a fediverse handle or an actor URL.
func HandleFollowAction(c *gin.Context, conf *util.AppConfig) {
	var req followActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and target are required"})
		return
	}

	action := req.Action
	if action == "" {
		action = "follow"
	}
	if action != "follow" && action != "unfollow" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be follow or unfollow"})
		return
	}

	err, acc := db.GetDB().ReadAccByUsername(req.Username)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	var actionErr error
	if action == "follow" {
		actionErr = activitypub.FollowRemote(acc, req.Target, conf)
	} else {
		actionErr = activitypub.UnfollowRemote(acc, req.Target, conf)
	}
	ObserveFollowAction(action, actionErr)

	switch {
	case actionErr == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(actionErr, activitypub.ErrAlreadyFollowing):
		c.JSON(http.StatusConflict, gin.H{"error": "Already following"})
	case errors.Is(actionErr, activitypub.ErrNotFollowing):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not following"})
	case errors.Is(actionErr, activitypub.ErrHandleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Handle not found"})
	case errors.Is(actionErr, activitypub.ErrRemoteActorUnreachable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Remote actor unreachable"})
	default:
		log.Printf("Web: Follow action failed: %v", actionErr)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

// HandleCreateAccount bootstraps a local actor and provisions its keypair
// up front, so the first federation request never pays for key generation.
func HandleCreateAccount(c *gin.Context, conf *util.AppConfig) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}

	if !isValidUsername(req.Username) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid username"})
		return
	}

	err, acc := db.GetDB().CreateAccount(req.Username, req.DisplayName)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			c.JSON(http.StatusConflict, gin.H{"error": "Username already taken"})
			return
		}
		log.Printf("Web: Failed to create account %s: %v", req.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	if _, err := activitypub.GetOrCreateKeyPair(activitypub.NewDBWrapper(), acc.Id); err != nil {
		log.Printf("Web: Failed to provision keypair for %s: %v", acc.Username, err)
	}

	c.JSON(http.StatusCreated, gin.H{
		"username": acc.Username,
		"actor":    "https://" + conf.Conf.SslDomain + "/users/" + acc.Username,
	})
}

// HandleCreateNote stores a local note. Public and unlisted notes become
// visible through the outbox and the RSS feed.
func HandleCreateNote(c *gin.Context, conf *util.AppConfig) {
	var req createNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and message are required"})
		return
	}

	if !isValidVisibility(req.Visibility) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid visibility"})
		return
	}

	database := db.GetDB()
	err, acc := database.ReadAccByUsername(req.Username)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	err, noteId := database.CreateNote(&domain.SaveNote{
		UserId:       acc.Id,
		Message:      req.Message,
		Visibility:   req.Visibility,
		InReplyToURI: req.InReplyTo,
	})
	if err != nil {
		log.Printf("Web: Failed to create note for %s: %v", acc.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":  noteId.String(),
		"uri": "https://" + conf.Conf.SslDomain + "/notes/" + noteId.String(),
	})
}

// HandleUpdateProfile patches the profile fields that feed the actor
// document. Absent fields are left untouched.
func HandleUpdateProfile(c *gin.Context, conf *util.AppConfig) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	database := db.GetDB()
	err, acc := database.ReadAccByUsername(c.Param("username"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	if req.DisplayName != nil {
		acc.DisplayName = *req.DisplayName
	}
	if req.Summary != nil {
		acc.Summary = *req.Summary
	}
	if req.AvatarURL != nil {
		acc.AvatarURL = *req.AvatarURL
	}
	if req.BannerURL != nil {
		acc.BannerURL = *req.BannerURL
	}

	if err := database.UpdateAccountProfile(acc); err != nil {
		log.Printf("Web: Failed to update profile for %s: %v", acc.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// isValidVisibility accepts the empty string, which CreateNote defaults
// to public.
func isValidVisibility(visibility string) bool {
	switch visibility {
	case "", domain.VisibilityPublic, domain.VisibilityUnlisted, domain.VisibilityPrivate:
		return true
	}
	return false
}

// isValidUsername accepts the handle shapes we are willing to put into
// actor URLs: lowercase letters, digits and underscores.
func isValidUsername(username string) bool {
	if len(username) == 0 || len(username) > 64 {
		return false
	}
	for _, r := range strings.ToLower(username) {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}
