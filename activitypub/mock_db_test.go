package activitypub

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koasocial/koasocial/domain"
)

// MockDatabase is an in-memory implementation of the Database interface.
// It stores data in maps and needs no real database.
type MockDatabase struct {
	mu sync.RWMutex

	Accounts       map[uuid.UUID]*domain.Account
	AccountsByUser map[string]*domain.Account
	KeyPairs       map[uuid.UUID]*domain.KeyPair
	RemoteAccounts map[uuid.UUID]*domain.RemoteAccount
	RemoteByURI    map[string]*domain.RemoteAccount
	Follows        map[uuid.UUID]*domain.Follow
	Activities     map[uuid.UUID]*domain.Activity
	Notes          map[uuid.UUID]*domain.Note

	// Error injection for testing error handling
	ForceError error
}

// NewMockDatabase creates a new mock database with initialized maps
func NewMockDatabase() *MockDatabase {
	return &MockDatabase{
		Accounts:       make(map[uuid.UUID]*domain.Account),
		AccountsByUser: make(map[string]*domain.Account),
		KeyPairs:       make(map[uuid.UUID]*domain.KeyPair),
		RemoteAccounts: make(map[uuid.UUID]*domain.RemoteAccount),
		RemoteByURI:    make(map[string]*domain.RemoteAccount),
		Follows:        make(map[uuid.UUID]*domain.Follow),
		Activities:     make(map[uuid.UUID]*domain.Activity),
		Notes:          make(map[uuid.UUID]*domain.Note),
	}
}

// AddAccount adds an account to the mock database
func (m *MockDatabase) AddAccount(acc *domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Accounts[acc.Id] = acc
	m.AccountsByUser[acc.Username] = acc
}

// AddRemoteAccount adds a remote account to the mock database
func (m *MockDatabase) AddRemoteAccount(acc *domain.RemoteAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RemoteAccounts[acc.Id] = acc
	m.RemoteByURI[acc.ActorURI] = acc
}

// AddFollow adds a follow relationship to the mock database
func (m *MockDatabase) AddFollow(follow *domain.Follow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if follow.Id == uuid.Nil {
		follow.Id = uuid.New()
	}
	m.Follows[follow.Id] = follow
}

// AddNote adds a note to the mock database
func (m *MockDatabase) AddNote(note *domain.Note) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notes[note.Id] = note
}

func (m *MockDatabase) ReadAccByUsername(username string) (error, *domain.Account) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	acc, ok := m.AccountsByUser[username]
	if !ok {
		return sql.ErrNoRows, nil
	}
	return nil, acc
}

func (m *MockDatabase) CreateKeyPair(accountId uuid.UUID, publicPem string, privatePem string) (error, *domain.KeyPair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	if existing, ok := m.KeyPairs[accountId]; ok {
		return nil, existing
	}
	kp := &domain.KeyPair{
		Id:            uuid.New(),
		AccountId:     accountId,
		PublicKeyPem:  publicPem,
		PrivateKeyPem: privatePem,
		CreatedAt:     time.Now(),
	}
	m.KeyPairs[accountId] = kp
	return nil, kp
}

func (m *MockDatabase) ReadKeyPairByAccountId(accountId uuid.UUID) (error, *domain.KeyPair) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	kp, ok := m.KeyPairs[accountId]
	if !ok {
		return sql.ErrNoRows, nil
	}
	return nil, kp
}

func (m *MockDatabase) CreateOrGetRemoteAccount(acc *domain.RemoteAccount) (error, *domain.RemoteAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	if existing, ok := m.RemoteByURI[acc.ActorURI]; ok {
		return nil, existing
	}
	if acc.Id == uuid.Nil {
		acc.Id = uuid.New()
	}
	m.RemoteAccounts[acc.Id] = acc
	m.RemoteByURI[acc.ActorURI] = acc
	return nil, acc
}

func (m *MockDatabase) ReadRemoteAccountByURI(actorURI string) (error, *domain.RemoteAccount) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	acc, ok := m.RemoteByURI[actorURI]
	if !ok {
		return sql.ErrNoRows, nil
	}
	return nil, acc
}

func (m *MockDatabase) CreateFollow(follow *domain.Follow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	for _, existing := range m.Follows {
		if existing.AccountId == follow.AccountId &&
			existing.RemoteAccountId == follow.RemoteAccountId &&
			existing.Direction == follow.Direction {
			return fmt.Errorf("UNIQUE constraint failed: follows")
		}
	}
	if follow.Id == uuid.Nil {
		follow.Id = uuid.New()
	}
	if follow.CreatedAt.IsZero() {
		follow.CreatedAt = time.Now()
	}
	m.Follows[follow.Id] = follow
	return nil
}

func (m *MockDatabase) ReadFollow(accountId uuid.UUID, remoteAccountId uuid.UUID, direction string) (error, *domain.Follow) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	for _, follow := range m.Follows {
		if follow.AccountId == accountId && follow.RemoteAccountId == remoteAccountId && follow.Direction == direction {
			return nil, follow
		}
	}
	return sql.ErrNoRows, nil
}

func (m *MockDatabase) UpdateFollowStatus(id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	if follow, ok := m.Follows[id]; ok {
		follow.Status = status
	}
	return nil
}

func (m *MockDatabase) DeleteFollow(accountId uuid.UUID, remoteAccountId uuid.UUID, direction string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	for id, follow := range m.Follows {
		if follow.AccountId == accountId && follow.RemoteAccountId == remoteAccountId && follow.Direction == direction {
			delete(m.Follows, id)
		}
	}
	return nil
}

func (m *MockDatabase) CountFollows(accountId uuid.UUID, direction string, status string) (error, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, 0
	}
	count := 0
	for _, follow := range m.Follows {
		if follow.AccountId == accountId && follow.Direction == direction && follow.Status == status {
			count++
		}
	}
	return nil, count
}

func (m *MockDatabase) CreateActivity(activity *domain.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	if activity.Id == uuid.Nil {
		activity.Id = uuid.New()
	}
	if activity.Status == "" {
		activity.Status = domain.ActivityPending
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now()
	}
	m.Activities[activity.Id] = activity
	return nil
}

func (m *MockDatabase) ReadActivityByURI(activityURI string) (error, *domain.Activity) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	for _, activity := range m.Activities {
		if activity.ActivityURI == activityURI {
			return nil, activity
		}
	}
	return sql.ErrNoRows, nil
}

func (m *MockDatabase) UpdateActivityOutcome(id uuid.UUID, status string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceError != nil {
		return m.ForceError
	}
	if activity, ok := m.Activities[id]; ok && activity.Status == domain.ActivityPending {
		activity.Status = status
		activity.Error = errMsg
	}
	return nil
}

func (m *MockDatabase) CountPublicNotesByUsername(username string) (error, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, 0
	}
	acc, ok := m.AccountsByUser[username]
	if !ok {
		return sql.ErrNoRows, 0
	}
	count := 0
	for _, note := range m.Notes {
		if note.CreatedBy == acc.Username && note.Visibility != domain.VisibilityPrivate {
			count++
		}
	}
	return nil, count
}

func (m *MockDatabase) ReadPublicNotesPage(username string, maxId *uuid.UUID, minId *uuid.UUID, limit int) (error, *[]domain.Note) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}

	var all []domain.Note
	for _, note := range m.Notes {
		if note.CreatedBy == username && note.Visibility != domain.VisibilityPrivate {
			all = append(all, *note)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	boundaryTime := func(id uuid.UUID) (time.Time, bool) {
		note, ok := m.Notes[id]
		if !ok {
			return time.Time{}, false
		}
		return note.CreatedAt, true
	}

	var result []domain.Note
	switch {
	case maxId != nil:
		cutoff, ok := boundaryTime(*maxId)
		if !ok {
			return nil, &result
		}
		for _, note := range all {
			if note.CreatedAt.Before(cutoff) {
				result = append(result, note)
			}
			if len(result) == limit {
				break
			}
		}
	case minId != nil:
		newer := all
		if *minId != uuid.Nil {
			cutoff, ok := boundaryTime(*minId)
			if !ok {
				return nil, &result
			}
			newer = nil
			for _, note := range all {
				if note.CreatedAt.After(cutoff) {
					newer = append(newer, note)
				}
			}
		}
		// newest-first, bounded from the old end like the real query
		start := len(newer) - limit
		if start < 0 {
			start = 0
		}
		result = newer[start:]
	default:
		for _, note := range all {
			result = append(result, note)
			if len(result) == limit {
				break
			}
		}
	}

	return nil, &result
}

func (m *MockDatabase) ReadNoteId(id uuid.UUID) (error, *domain.Note) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ForceError != nil {
		return m.ForceError, nil
	}
	note, ok := m.Notes[id]
	if !ok {
		return sql.ErrNoRows, nil
	}
	return nil, note
}

// Ensure MockDatabase implements Database interface
var _ Database = (*MockDatabase)(nil)
