package domain

import (
	"fmt"
	"github.com/google/uuid"
	"time"
)

// Account is a locally hosted actor.
type Account struct {
	Id          uuid.UUID
	Username    string // unique, lowercase handle
	DisplayName string
	Summary     string
	AvatarURL   string
	BannerURL   string
	CreatedAt   time.Time
}

// KeyPair holds the RSA keypair published for an account. The private key
// never leaves the server boundary.
type KeyPair struct {
	Id            uuid.UUID
	AccountId     uuid.UUID
	PublicKeyPem  string
	PrivateKeyPem string
	CreatedAt     time.Time
}

func (acc *Account) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tUsername: %s \n\tCreatedAt: %s)", acc.Id, acc.Username, acc.CreatedAt)
}
