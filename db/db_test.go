package db

import (
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/koasocial/koasocial/domain"
	_ "modernc.org/sqlite"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *DB {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	// A second connection would see a different empty memory database.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB}

	if err := db.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db
}

func createTestAccount(t *testing.T, db *DB, username string) *domain.Account {
	err, acc := db.CreateAccount(username, username)
	if err != nil {
		t.Fatalf("Failed to create account %s: %v", username, err)
	}
	return acc
}

// insertNoteAt inserts a note with an explicit timestamp so ordering in
// pagination tests is unambiguous.
func insertNoteAt(t *testing.T, db *DB, userId uuid.UUID, message string, visibility string, createdAt time.Time) uuid.UUID {
	id := uuid.New()
	_, err := db.db.Exec(sqlInsertNote, id.String(), userId.String(), message, visibility, "", createdAt)
	if err != nil {
		t.Fatalf("Failed to insert note: %v", err)
	}
	return id
}

func TestCreateAndReadAccount(t *testing.T) {
	db := setupTestDB(t)

	err, acc := db.CreateAccount("Alice", "Alice")
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if acc.Username != "alice" {
		t.Errorf("Expected lowercased username alice, got %s", acc.Username)
	}

	err, read := db.ReadAccByUsername("alice")
	if err != nil {
		t.Fatalf("ReadAccByUsername failed: %v", err)
	}
	if read.Id != acc.Id {
		t.Errorf("Expected id %s, got %s", acc.Id, read.Id)
	}

	err, _ = db.CreateAccount("alice", "Alice Again")
	if err == nil {
		t.Error("Expected duplicate username to be rejected")
	}
}

func TestReadAccByUsernameNotFound(t *testing.T) {
	db := setupTestDB(t)

	err, acc := db.ReadAccByUsername("nobody")
	if err != sql.ErrNoRows {
		t.Errorf("Expected sql.ErrNoRows, got %v", err)
	}
	if acc != nil {
		t.Error("Expected nil account for missing username")
	}
}

func TestCreateNoteAndReadById(t *testing.T) {
	db := setupTestDB(t)
	acc := createTestAccount(t, db, "alice")

	err, noteId := db.CreateNote(&domain.SaveNote{UserId: acc.Id, Message: "hello fediverse"})
	if err != nil {
		t.Fatalf("CreateNote failed: %v", err)
	}

	err, note := db.ReadNoteId(noteId)
	if err != nil {
		t.Fatalf("ReadNoteId failed: %v", err)
	}
	if note.Message != "hello fediverse" {
		t.Errorf("Expected message 'hello fediverse', got %s", note.Message)
	}
	if note.CreatedBy != "alice" {
		t.Errorf("Expected creator alice, got %s", note.CreatedBy)
	}
	if note.Visibility != domain.VisibilityPublic {
		t.Errorf("Expected default visibility public, got %s", note.Visibility)
	}
}

func TestCountPublicNotesExcludesPrivate(t *testing.T) {
	db := setupTestDB(t)
	acc := createTestAccount(t, db, "alice")

	base := time.Now().Add(-time.Hour)
	insertNoteAt(t, db, acc.Id, "public one", domain.VisibilityPublic, base)
	insertNoteAt(t, db, acc.Id, "unlisted one", domain.VisibilityUnlisted, base.Add(time.Second))
	insertNoteAt(t, db, acc.Id, "private one", domain.VisibilityPrivate, base.Add(2*time.Second))

	err, count := db.CountPublicNotesByUsername("alice")
	if err != nil {
		t.Fatalf("CountPublicNotesByUsername failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 countable notes, got %d", count)
	}
}

func TestPublicNotesPagination(t *testing.T) {
	db := setupTestDB(t)
	acc := createTestAccount(t, db, "alice")

	base := time.Now().Add(-time.Hour)
	ids := make([]uuid.UUID, 0, 45)
	for i := 0; i < 45; i++ {
		id := insertNoteAt(t, db, acc.Id, fmt.Sprintf("note %d", i), domain.VisibilityPublic, base.Add(time.Duration(i)*time.Second))
		ids = append(ids, id)
	}

	seen := make(map[uuid.UUID]bool)

	// First page: the 20 newest notes.
	err, page1 := db.ReadPublicNotesPage("alice", nil, nil, 20)
	if err != nil {
		t.Fatalf("First page failed: %v", err)
	}
	if len(*page1) != 20 {
		t.Fatalf("Expected 20 notes on first page, got %d", len(*page1))
	}
	if (*page1)[0].Id != ids[44] {
		t.Errorf("Expected newest note first, got %s", (*page1)[0].Id)
	}
	for _, n := range *page1 {
		if seen[n.Id] {
			t.Errorf("Note %s appeared twice", n.Id)
		}
		seen[n.Id] = true
	}

	// Second page: older than the last note of page one.
	boundary := (*page1)[len(*page1)-1].Id
	err, page2 := db.ReadPublicNotesPage("alice", &boundary, nil, 20)
	if err != nil {
		t.Fatalf("Second page failed: %v", err)
	}
	if len(*page2) != 20 {
		t.Fatalf("Expected 20 notes on second page, got %d", len(*page2))
	}
	for _, n := range *page2 {
		if seen[n.Id] {
			t.Errorf("Note %s appeared twice", n.Id)
		}
		seen[n.Id] = true
	}

	// Third page: the remaining 5.
	boundary = (*page2)[len(*page2)-1].Id
	err, page3 := db.ReadPublicNotesPage("alice", &boundary, nil, 20)
	if err != nil {
		t.Fatalf("Third page failed: %v", err)
	}
	if len(*page3) != 5 {
		t.Fatalf("Expected 5 notes on third page, got %d", len(*page3))
	}
	for _, n := range *page3 {
		if seen[n.Id] {
			t.Errorf("Note %s appeared twice", n.Id)
		}
		seen[n.Id] = true
	}
	if len(seen) != 45 {
		t.Errorf("Expected all 45 notes across pages, got %d", len(seen))
	}

	// Walking back with minId from the top of page two yields page one again.
	minBoundary := (*page2)[0].Id
	err, newer := db.ReadPublicNotesPage("alice", nil, &minBoundary, 20)
	if err != nil {
		t.Fatalf("minId page failed: %v", err)
	}
	if len(*newer) != 20 {
		t.Fatalf("Expected 20 newer notes, got %d", len(*newer))
	}
	if (*newer)[0].Id != ids[44] {
		t.Errorf("Expected newest note first on minId page, got %s", (*newer)[0].Id)
	}
	if (*newer)[19].Id != (*page1)[19].Id {
		t.Errorf("Expected minId page to match first page boundary")
	}
}

func TestCreateKeyPairConverges(t *testing.T) {
	db := setupTestDB(t)
	acc := createTestAccount(t, db, "alice")

	err, first := db.CreateKeyPair(acc.Id, "PUB1", "PRIV1")
	if err != nil {
		t.Fatalf("First CreateKeyPair failed: %v", err)
	}

	// Second provisioning attempt must return the stored pair, not replace it.
	err, second := db.CreateKeyPair(acc.Id, "PUB2", "PRIV2")
	if err != nil {
		t.Fatalf("Second CreateKeyPair failed: %v", err)
	}
	if second.Id != first.Id {
		t.Errorf("Expected stored keypair to win, got new id %s", second.Id)
	}
	if second.PublicKeyPem != "PUB1" {
		t.Errorf("Expected original public key, got %s", second.PublicKeyPem)
	}
}

func testRemoteAccount(uri string) *domain.RemoteAccount {
	return &domain.RemoteAccount{
		ActorURI:     uri,
		Username:     "bob",
		Domain:       "remote.example",
		InboxURI:     uri + "/inbox",
		PublicKeyId:  uri + "#main-key",
		PublicKeyPem: "PEM",
		RawJSON:      "{}",
	}
}

func TestCreateOrGetRemoteAccountDuplicate(t *testing.T) {
	db := setupTestDB(t)

	err, first := db.CreateOrGetRemoteAccount(testRemoteAccount("https://remote.example/users/bob"))
	if err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err, second := db.CreateOrGetRemoteAccount(testRemoteAccount("https://remote.example/users/bob"))
	if err != nil {
		t.Fatalf("Second insert failed: %v", err)
	}
	if second.Id != first.Id {
		t.Errorf("Expected existing row for duplicate actor URI, got %s vs %s", second.Id, first.Id)
	}
}

func TestCreateOrGetRemoteAccountConcurrent(t *testing.T) {
	db := setupTestDB(t)

	type result struct {
		err error
		acc *domain.RemoteAccount
	}
	results := make(chan result, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err, acc := db.CreateOrGetRemoteAccount(testRemoteAccount("https://remote.example/users/carol"))
			results <- result{err, acc}
		}()
	}
	wg.Wait()
	close(results)

	ids := make(map[uuid.UUID]bool)
	for r := range results {
		if r.err != nil {
			t.Fatalf("Concurrent insert failed: %v", r.err)
		}
		ids[r.acc.Id] = true
	}
	if len(ids) != 1 {
		t.Errorf("Expected both callers to converge on one row, got %d distinct ids", len(ids))
	}

	var count int
	if err := db.db.QueryRow(`SELECT COUNT(*) FROM remote_accounts WHERE actor_uri = ?`, "https://remote.example/users/carol").Scan(&count); err != nil {
		t.Fatalf("Count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected a single row, got %d", count)
	}
}

func TestFollowUniquePerDirection(t *testing.T) {
	db := setupTestDB(t)
	acc := createTestAccount(t, db, "alice")
	err, remote := db.CreateOrGetRemoteAccount(testRemoteAccount("https://remote.example/users/bob"))
	if err != nil {
		t.Fatalf("Remote account insert failed: %v", err)
	}

	follow := &domain.Follow{
		AccountId:       acc.Id,
		RemoteAccountId: remote.Id,
		Direction:       domain.FollowOutgoing,
		Status:          domain.FollowPending,
		URI:             "https://local.example/activities/1",
	}
	if err := db.CreateFollow(follow); err != nil {
		t.Fatalf("CreateFollow failed: %v", err)
	}

	dup := &domain.Follow{
		AccountId:       acc.Id,
		RemoteAccountId: remote.Id,
		Direction:       domain.FollowOutgoing,
		Status:          domain.FollowPending,
		URI:             "https://local.example/activities/2",
	}
	if err := db.CreateFollow(dup); err == nil {
		t.Error("Expected duplicate follow in same direction to be rejected")
	}

	incoming := &domain.Follow{
		AccountId:       acc.Id,
		RemoteAccountId: remote.Id,
		Direction:       domain.FollowIncoming,
		Status:          domain.FollowAccepted,
		URI:             "https://remote.example/activities/9",
	}
	if err := db.CreateFollow(incoming); err != nil {
		t.Errorf("Expected opposite direction follow to be allowed: %v", err)
	}

	err, count := db.CountFollows(acc.Id, domain.FollowIncoming, domain.FollowAccepted)
	if err != nil {
		t.Fatalf("CountFollows failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 accepted incoming follow, got %d", count)
	}
}

func TestDeleteFollow(t *testing.T) {
	db := setupTestDB(t)
	acc := createTestAccount(t, db, "alice")
	err, remote := db.CreateOrGetRemoteAccount(testRemoteAccount("https://remote.example/users/bob"))
	if err != nil {
		t.Fatalf("Remote account insert failed: %v", err)
	}

	follow := &domain.Follow{
		AccountId:       acc.Id,
		RemoteAccountId: remote.Id,
		Direction:       domain.FollowOutgoing,
		Status:          domain.FollowAccepted,
		URI:             "https://local.example/activities/1",
	}
	if err := db.CreateFollow(follow); err != nil {
		t.Fatalf("CreateFollow failed: %v", err)
	}

	if err := db.DeleteFollow(acc.Id, remote.Id, domain.FollowOutgoing); err != nil {
		t.Fatalf("DeleteFollow failed: %v", err)
	}

	err, _ = db.ReadFollow(acc.Id, remote.Id, domain.FollowOutgoing)
	if err != sql.ErrNoRows {
		t.Errorf("Expected follow to be gone, got %v", err)
	}
}

func TestActivityOutcomeTransition(t *testing.T) {
	db := setupTestDB(t)

	activity := &domain.Activity{
		ActivityURI:  "https://remote.example/activities/1",
		ActivityType: "Follow",
		ActorURI:     "https://remote.example/users/bob",
		Direction:    domain.ActivityInbound,
		RawJSON:      "{}",
	}
	if err := db.CreateActivity(activity); err != nil {
		t.Fatalf("CreateActivity failed: %v", err)
	}

	err, stored := db.ReadActivityByURI(activity.ActivityURI)
	if err != nil {
		t.Fatalf("ReadActivityByURI failed: %v", err)
	}
	if stored.Status != domain.ActivityPending {
		t.Errorf("Expected pending status on insert, got %s", stored.Status)
	}

	if err := db.UpdateActivityOutcome(stored.Id, domain.ActivityProcessed, ""); err != nil {
		t.Fatalf("UpdateActivityOutcome failed: %v", err)
	}

	// A second transition must not overwrite the terminal status.
	if err := db.UpdateActivityOutcome(stored.Id, domain.ActivityFailed, "late failure"); err != nil {
		t.Fatalf("Second UpdateActivityOutcome failed: %v", err)
	}

	err, final := db.ReadActivityByURI(activity.ActivityURI)
	if err != nil {
		t.Fatalf("Re-read failed: %v", err)
	}
	if final.Status != domain.ActivityProcessed {
		t.Errorf("Expected terminal status processed, got %s", final.Status)
	}
	if final.Error != "" {
		t.Errorf("Expected empty error, got %s", final.Error)
	}
}

func TestPublicNotesPageZeroCursor(t *testing.T) {
	db := setupTestDB(t)
	acc := createTestAccount(t, db, "alice")

	base := time.Now().Add(-time.Hour)
	var oldestId uuid.UUID
	for i := 0; i < 25; i++ {
		id := insertNoteAt(t, db, acc.Id, fmt.Sprintf("note %d", i), domain.VisibilityPublic, base.Add(time.Duration(i)*time.Second))
		if i == 0 {
			oldestId = id
		}
	}

	// The zero id cursor serves the oldest page, newest-first within it.
	zero := uuid.Nil
	err, notes := db.ReadPublicNotesPage("alice", nil, &zero, 20)
	if err != nil {
		t.Fatalf("ReadPublicNotesPage failed: %v", err)
	}
	if len(*notes) != 20 {
		t.Fatalf("Expected 20 notes, got %d", len(*notes))
	}
	if (*notes)[len(*notes)-1].Id != oldestId {
		t.Error("Expected the oldest note at the bottom of the page")
	}
	if !(*notes)[0].CreatedAt.After((*notes)[19].CreatedAt) {
		t.Error("Expected newest-first ordering within the page")
	}
}
