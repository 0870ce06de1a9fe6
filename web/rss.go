package web

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/feeds"
	"github.com/koasocial/koasocial/db"
	"github.com/koasocial/koasocial/domain"
	"github.com/koasocial/koasocial/util"
)

// HandleFeed serves an RSS projection of public notes, optionally
// filtered to one account.
func HandleFeed(c *gin.Context, conf *util.AppConfig) {
	c.Header("Content-Type", "application/xml; charset=utf-8")

	username := c.Query("username")
	rss, err := GetRSS(conf, username)
	if err != nil {
		c.String(http.StatusNotFound, "")
		return
	}
	c.String(http.StatusOK, rss)
}

// HandleFeedItem serves a single note as a one-item feed.
func HandleFeedItem(c *gin.Context, conf *util.AppConfig) {
	c.Header("Content-Type", "application/xml; charset=utf-8")

	feedId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.String(http.StatusNotFound, "")
		return
	}

	rss, err := GetRSSItem(conf, feedId)
	if err != nil {
		c.String(http.StatusNotFound, "")
		return
	}
	c.String(http.StatusOK, rss)
}

func GetRSS(conf *util.AppConfig, username string) (string, error) {
	var err error
	var notes *[]domain.Note
	var title string

	if username != "" {
		err, notes = db.GetDB().ReadNotesByUsername(username)
		title = fmt.Sprintf("%s Notes - %s", util.Name, username)
	} else {
		err, notes = db.GetDB().ReadAllNotes()
		title = fmt.Sprintf("All %s Notes", util.Name)
	}
	if err != nil || notes == nil {
		log.Printf("Web: Could not get notes for feed: %v", err)
		return "", errors.New("error retrieving notes")
	}

	public := publicOnly(*notes)
	if len(public) == 0 {
		return "", errors.New("no public notes")
	}

	return buildFeed(title, public, conf).ToRss()
}

func GetRSSItem(conf *util.AppConfig, id uuid.UUID) (string, error) {
	err, note := db.GetDB().ReadNoteId(id)
	if err != nil || note == nil || note.Visibility == domain.VisibilityPrivate {
		return "", errors.New("error retrieving note by id")
	}

	title := fmt.Sprintf("Single %s Note", util.Name)
	return buildFeed(title, []domain.Note{*note}, conf).ToRss()
}

// publicOnly keeps the notes a feed may show.
func publicOnly(notes []domain.Note) []domain.Note {
	var out []domain.Note
	for _, note := range notes {
		if note.Visibility == domain.VisibilityPublic {
			out = append(out, note)
		}
	}
	return out
}

func buildFeed(title string, notes []domain.Note, conf *util.AppConfig) *feeds.Feed {
	link := fmt.Sprintf("https://%s/feed", conf.Conf.SslDomain)

	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: link},
		Description: fmt.Sprintf("public notes from %s", conf.Conf.SslDomain),
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, note := range notes {
		email := fmt.Sprintf("%s@%s", note.CreatedBy, conf.Conf.SslDomain)
		feedItems = append(feedItems,
			&feeds.Item{
				Id:      note.Id.String(),
				Title:   note.CreatedAt.Format(util.DateTimeFormat()),
				Link:    &feeds.Link{Href: fmt.Sprintf("https://%s/feed/%s", conf.Conf.SslDomain, note.Id)},
				Content: note.Message,
				Author:  &feeds.Author{Name: note.CreatedBy, Email: email},
				Created: note.CreatedAt,
			})
	}

	feed.Items = feedItems
	return feed
}
