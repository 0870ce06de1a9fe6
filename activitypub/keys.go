package activitypub

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/koasocial/koasocial/domain"
	"github.com/koasocial/koasocial/util"
)

// ErrKeyProvisioning means an account's signing key could not be loaded or
// created. Signing paths fail closed on it: no actor document and no
// outbound activity is served with a missing key.
var ErrKeyProvisioning = errors.New("keypair provisioning failed")

// GetOrCreateKeyPair returns the signing keypair for an account, generating
// and persisting one on first use. Concurrent first calls converge on a
// single stored pair via the unique constraint on account_id.
func GetOrCreateKeyPair(database Database, accountId uuid.UUID) (*domain.KeyPair, error) {
	err, existing := database.ReadKeyPairByAccountId(accountId)
	if err == nil && existing != nil {
		return existing, nil
	}
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %v", ErrKeyProvisioning, err)
	}

	generated, err := util.GeneratePemKeypair()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyProvisioning, err)
	}

	err, stored := database.CreateKeyPair(accountId, generated.Public, generated.Private)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyProvisioning, err)
	}

	log.Printf("Keys: Provisioned keypair for account %s", accountId)
	return stored, nil
}
