package activitypub

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/koasocial/koasocial/domain"
)

// PageSize is the number of activities per outbox page.
const PageSize = 20

const publicAudience = "https://www.w3.org/ns/activitystreams#Public"

// OrderedCollection is the outbox summary served without a cursor.
type OrderedCollection struct {
	Context    interface{} `json:"@context"`
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	TotalItems int         `json:"totalItems"`
	First      string      `json:"first,omitempty"`
	Last       string      `json:"last,omitempty"`
}

// OrderedCollectionPage is one cursor-bounded page of outbox activities.
type OrderedCollectionPage struct {
	Context      interface{}      `json:"@context"`
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	PartOf       string           `json:"partOf"`
	OrderedItems []CreateActivity `json:"orderedItems"`
	Next         string           `json:"next,omitempty"`
	Prev         string           `json:"prev,omitempty"`
}

// CreateActivity wraps a note for the outbox.
type CreateActivity struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Actor     string     `json:"actor"`
	Published string     `json:"published"`
	To        []string   `json:"to"`
	Cc        []string   `json:"cc,omitempty"`
	Object    NoteObject `json:"object"`
}

// NoteObject is the ActivityPub representation of a local note.
type NoteObject struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	AttributedTo string   `json:"attributedTo"`
	Content      string   `json:"content"`
	Published    string   `json:"published"`
	InReplyTo    string   `json:"inReplyTo,omitempty"`
	To           []string `json:"to"`
	Cc           []string `json:"cc,omitempty"`
}

// BuildOutbox returns the outbox summary for a local account: total count
// of public and unlisted notes plus pointers into the paged view.
func BuildOutbox(database Database, username string, domainName string) (*OrderedCollection, error) {
	err, total := database.CountPublicNotesByUsername(username)
	if err != nil {
		return nil, fmt.Errorf("failed to count notes: %w", err)
	}

	outboxURI := fmt.Sprintf("https://%s/users/%s/outbox", domainName, username)

	collection := &OrderedCollection{
		Context:    "https://www.w3.org/ns/activitystreams",
		ID:         outboxURI,
		Type:       "OrderedCollection",
		TotalItems: total,
	}

	if total > 0 {
		collection.First = outboxURI + "?page=true"
		collection.Last = outboxURI + "?page=true&min_id=0"
	}

	return collection, nil
}

// BuildOutboxPage returns one page of up to PageSize activities, newest
// first. maxId pages toward older notes, minId toward newer ones. Next and
// prev links are derived from the boundary note ids of the returned page
// and omitted when the page is empty.
func BuildOutboxPage(database Database, username string, domainName string, maxId *uuid.UUID, minId *uuid.UUID) (*OrderedCollectionPage, error) {
	err, notes := database.ReadPublicNotesPage(username, maxId, minId, PageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read notes page: %w", err)
	}

	outboxURI := fmt.Sprintf("https://%s/users/%s/outbox", domainName, username)
	actorURI := fmt.Sprintf("https://%s/users/%s", domainName, username)

	pageID := outboxURI + "?page=true"
	switch {
	case maxId != nil:
		pageID = fmt.Sprintf("%s?page=true&max_id=%s", outboxURI, maxId)
	case minId != nil:
		pageID = fmt.Sprintf("%s?page=true&min_id=%s", outboxURI, minId)
	}

	page := &OrderedCollectionPage{
		Context:      "https://www.w3.org/ns/activitystreams",
		ID:           pageID,
		Type:         "OrderedCollectionPage",
		PartOf:       outboxURI,
		OrderedItems: []CreateActivity{},
	}

	if notes == nil || len(*notes) == 0 {
		return page, nil
	}

	for _, note := range *notes {
		page.OrderedItems = append(page.OrderedItems, noteToCreateActivity(&note, actorURI, domainName, username))
	}

	newest := (*notes)[0].Id
	oldest := (*notes)[len(*notes)-1].Id
	if len(*notes) == PageSize {
		page.Next = fmt.Sprintf("%s?page=true&max_id=%s", outboxURI, oldest)
	}
	page.Prev = fmt.Sprintf("%s?page=true&min_id=%s", outboxURI, newest)

	return page, nil
}

// noteToCreateActivity wraps a note in its Create activity. Activity ids
// are derived from the note id, so repeated pagination yields identical
// documents.
func noteToCreateActivity(note *domain.Note, actorURI string, domainName string, username string) CreateActivity {
	noteURI := fmt.Sprintf("https://%s/notes/%s", domainName, note.Id)
	followersURI := fmt.Sprintf("https://%s/users/%s/followers", domainName, username)
	published := note.CreatedAt.UTC().Format(time.RFC3339)

	var to, cc []string
	switch note.Visibility {
	case domain.VisibilityUnlisted:
		to = []string{followersURI}
		cc = []string{publicAudience}
	case domain.VisibilityPrivate:
		to = []string{followersURI}
	default:
		to = []string{publicAudience}
		cc = []string{followersURI}
	}

	return CreateActivity{
		ID:        noteURI + "/activity",
		Type:      "Create",
		Actor:     actorURI,
		Published: published,
		To:        to,
		Cc:        cc,
		Object: NoteObject{
			ID:           noteURI,
			Type:         "Note",
			AttributedTo: actorURI,
			Content:      note.Message,
			Published:    published,
			InReplyTo:    note.InReplyToURI,
			To:           to,
			Cc:           cc,
		},
	}
}
