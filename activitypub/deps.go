package activitypub

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/koasocial/koasocial/db"
	"github.com/koasocial/koasocial/domain"
)

// Database is the subset of the db layer the federation core depends on.
// Production code passes a DBWrapper, tests pass a MockDatabase.
type Database interface {
	ReadAccByUsername(username string) (error, *domain.Account)

	CreateKeyPair(accountId uuid.UUID, publicPem string, privatePem string) (error, *domain.KeyPair)
	ReadKeyPairByAccountId(accountId uuid.UUID) (error, *domain.KeyPair)

	CreateOrGetRemoteAccount(acc *domain.RemoteAccount) (error, *domain.RemoteAccount)
	ReadRemoteAccountByURI(actorURI string) (error, *domain.RemoteAccount)

	CreateFollow(follow *domain.Follow) error
	ReadFollow(accountId uuid.UUID, remoteAccountId uuid.UUID, direction string) (error, *domain.Follow)
	UpdateFollowStatus(id uuid.UUID, status string) error
	DeleteFollow(accountId uuid.UUID, remoteAccountId uuid.UUID, direction string) error
	CountFollows(accountId uuid.UUID, direction string, status string) (error, int)

	CreateActivity(activity *domain.Activity) error
	ReadActivityByURI(activityURI string) (error, *domain.Activity)
	UpdateActivityOutcome(id uuid.UUID, status string, errMsg string) error

	CountPublicNotesByUsername(username string) (error, int)
	ReadPublicNotesPage(username string, maxId *uuid.UUID, minId *uuid.UUID, limit int) (error, *[]domain.Note)
	ReadNoteId(id uuid.UUID) (error, *domain.Note)
}

// DBWrapper adapts the sqlite-backed db layer to the Database interface.
type DBWrapper struct {
	*db.DB
}

// NewDBWrapper returns the production Database backed by the shared db handle.
func NewDBWrapper() Database {
	return &DBWrapper{db.GetDB()}
}

// HTTPClient abstracts the outbound HTTP client so tests can intercept
// federation traffic.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewDefaultHTTPClient returns an HTTP client with the given timeout.
func NewDefaultHTTPClient(timeout time.Duration) HTTPClient {
	return &http.Client{Timeout: timeout}
}

// defaultHTTPClient is the default HTTP client for production use
var defaultHTTPClient HTTPClient = NewDefaultHTTPClient(8 * time.Second)

const userAgent = "koasocial/0.1 ActivityPub"
