package domain

import (
	"fmt"
	"github.com/google/uuid"
	"time"
)

// Note visibilities. Public and unlisted notes appear in the outbox.
const (
	VisibilityPublic   = "public"
	VisibilityUnlisted = "unlisted"
	VisibilityPrivate  = "private"
)

type SaveNote struct {
	UserId       uuid.UUID
	Message      string
	Visibility   string
	InReplyToURI string
}

type Note struct {
	Id           uuid.UUID
	CreatedBy    string
	Message      string
	Visibility   string
	InReplyToURI string
	CreatedAt    time.Time
}

func (note *Note) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tCreatedBy: %s \n\tMessage: %s \n\tCreatedAt: %s)", note.Id, note.CreatedBy, note.Message, note.CreatedAt)
}
