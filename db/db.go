package db

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koasocial/koasocial/domain"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

const (
	//Accounts
	sqlInsertAccount          = `INSERT INTO accounts(id, username, display_name, summary, avatar_url, banner_url, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateAccountProfile   = `UPDATE accounts SET display_name = ?, summary = ?, avatar_url = ?, banner_url = ? WHERE id = ?`
	sqlSelectAccountByUsername = `SELECT id, username, display_name, summary, avatar_url, banner_url, created_at FROM accounts WHERE username = ?`

	//Notes
	sqlInsertNote     = `INSERT INTO notes(id, user_id, message, visibility, in_reply_to_uri, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectNoteById = `SELECT notes.id, accounts.username, notes.message, notes.visibility, notes.in_reply_to_uri, notes.created_at FROM notes
															INNER JOIN accounts ON accounts.id = notes.user_id
															WHERE notes.id = ?`
	sqlSelectNotesByUsername = `SELECT notes.id, accounts.username, notes.message, notes.visibility, notes.in_reply_to_uri, notes.created_at FROM notes
															INNER JOIN accounts ON accounts.id = notes.user_id
															WHERE accounts.username = ?
															ORDER BY notes.created_at DESC`
	sqlSelectAllNotes = `SELECT notes.id, accounts.username, notes.message, notes.visibility, notes.in_reply_to_uri, notes.created_at FROM notes
															INNER JOIN accounts ON accounts.id = notes.user_id
															ORDER BY notes.created_at DESC`
	sqlCountPublicNotesByUsername = `SELECT COUNT(*) FROM notes
															INNER JOIN accounts ON accounts.id = notes.user_id
															WHERE accounts.username = ? AND notes.visibility IN ('public', 'unlisted')`
	sqlSelectPublicNotesNewest = `SELECT notes.id, accounts.username, notes.message, notes.visibility, notes.in_reply_to_uri, notes.created_at FROM notes
															INNER JOIN accounts ON accounts.id = notes.user_id
															WHERE accounts.username = ? AND notes.visibility IN ('public', 'unlisted')
															ORDER BY notes.created_at DESC, notes.id DESC
															LIMIT ?`
	sqlSelectPublicNotesBefore = `SELECT notes.id, accounts.username, notes.message, notes.visibility, notes.in_reply_to_uri, notes.created_at FROM notes
															INNER JOIN accounts ON accounts.id = notes.user_id
															WHERE accounts.username = ? AND notes.visibility IN ('public', 'unlisted')
															AND (notes.created_at < (SELECT created_at FROM notes WHERE id = ?)
																OR (notes.created_at = (SELECT created_at FROM notes WHERE id = ?) AND notes.id < ?))
															ORDER BY notes.created_at DESC, notes.id DESC
															LIMIT ?`
	sqlSelectPublicNotesOldest = `SELECT notes.id, accounts.username, notes.message, notes.visibility, notes.in_reply_to_uri, notes.created_at FROM notes
															INNER JOIN accounts ON accounts.id = notes.user_id
															WHERE accounts.username = ? AND notes.visibility IN ('public', 'unlisted')
															ORDER BY notes.created_at ASC, notes.id ASC
															LIMIT ?`
	sqlSelectPublicNotesAfter = `SELECT notes.id, accounts.username, notes.message, notes.visibility, notes.in_reply_to_uri, notes.created_at FROM notes
															INNER JOIN accounts ON accounts.id = notes.user_id
															WHERE accounts.username = ? AND notes.visibility IN ('public', 'unlisted')
															AND (notes.created_at > (SELECT created_at FROM notes WHERE id = ?)
																OR (notes.created_at = (SELECT created_at FROM notes WHERE id = ?) AND notes.id > ?))
															ORDER BY notes.created_at ASC, notes.id ASC
															LIMIT ?`
)

// CreateAccount inserts a local account. Handles are stored lowercase, the
// uniqueness constraint on username is the source of truth.
func (db *DB) CreateAccount(username string, displayName string) (error, *domain.Account) {
	acc := &domain.Account{
		Id:          uuid.New(),
		Username:    strings.ToLower(username),
		DisplayName: displayName,
		CreatedAt:   time.Now(),
	}

	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertAccount,
			acc.Id.String(),
			acc.Username,
			acc.DisplayName,
			acc.Summary,
			acc.AvatarURL,
			acc.BannerURL,
			acc.CreatedAt,
		)
		return err
	})
	if err != nil {
		return err, nil
	}
	return nil, acc
}

func (db *DB) UpdateAccountProfile(acc *domain.Account) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateAccountProfile,
			acc.DisplayName,
			acc.Summary,
			acc.AvatarURL,
			acc.BannerURL,
			acc.Id.String(),
		)
		return err
	})
}

func (db *DB) ReadAccByUsername(username string) (error, *domain.Account) {
	row := db.db.QueryRow(sqlSelectAccountByUsername, strings.ToLower(username))
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (error, *domain.Account) {
	var acc domain.Account
	var idStr string
	err := row.Scan(&idStr, &acc.Username, &acc.DisplayName, &acc.Summary, &acc.AvatarURL, &acc.BannerURL, &acc.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	acc.Id, _ = uuid.Parse(idStr)
	return nil, &acc
}

func (db *DB) CreateNote(note *domain.SaveNote) (error, uuid.UUID) {
	id := uuid.New()
	visibility := note.Visibility
	if visibility == "" {
		visibility = domain.VisibilityPublic
	}
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertNote, id.String(), note.UserId.String(), note.Message, visibility, note.InReplyToURI, time.Now())
		return err
	})
	return err, id
}

func (db *DB) ReadNoteId(id uuid.UUID) (error, *domain.Note) {
	row := db.db.QueryRow(sqlSelectNoteById, id.String())
	var note domain.Note
	var idStr string
	err := row.Scan(&idStr, &note.CreatedBy, &note.Message, &note.Visibility, &note.InReplyToURI, &note.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	note.Id, _ = uuid.Parse(idStr)
	return nil, &note
}

func (db *DB) ReadNotesByUsername(username string) (error, *[]domain.Note) {
	return db.queryNotes(sqlSelectNotesByUsername, strings.ToLower(username))
}

func (db *DB) ReadAllNotes() (error, *[]domain.Note) {
	return db.queryNotes(sqlSelectAllNotes)
}

// CountPublicNotesByUsername counts the notes visible in the outbox.
func (db *DB) CountPublicNotesByUsername(username string) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountPublicNotesByUsername, strings.ToLower(username)).Scan(&count)
	if err != nil {
		return err, 0
	}
	return nil, count
}

// ReadPublicNotesPage returns up to limit public/unlisted notes for the
// given user, newest first. maxId bounds the page to notes older than the
// note with that id; minId to notes newer than it. Both nil means the
// newest page.
func (db *DB) ReadPublicNotesPage(username string, maxId *uuid.UUID, minId *uuid.UUID, limit int) (error, *[]domain.Note) {
	username = strings.ToLower(username)

	if maxId != nil {
		id := maxId.String()
		return db.queryNotes(sqlSelectPublicNotesBefore, username, id, id, id, limit)
	}

	if minId != nil {
		var err error
		var notes *[]domain.Note
		if *minId == uuid.Nil {
			// min_id=0 in a Last link: everything is newer, serve the
			// oldest page.
			err, notes = db.queryNotes(sqlSelectPublicNotesOldest, username, limit)
		} else {
			id := minId.String()
			err, notes = db.queryNotes(sqlSelectPublicNotesAfter, username, id, id, id, limit)
		}
		if err != nil {
			return err, nil
		}
		// The query walks upward from the boundary; flip back to newest-first.
		reversed := *notes
		for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
			reversed[i], reversed[j] = reversed[j], reversed[i]
		}
		return nil, &reversed
	}

	return db.queryNotes(sqlSelectPublicNotesNewest, username, limit)
}

func (db *DB) queryNotes(query string, args ...interface{}) (error, *[]domain.Note) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var notes []domain.Note

	for rows.Next() {
		var note domain.Note
		var idStr string
		if err := rows.Scan(&idStr, &note.CreatedBy, &note.Message, &note.Visibility, &note.InReplyToURI, &note.CreatedAt); err != nil {
			return err, &notes
		}
		note.Id, _ = uuid.Parse(idStr)
		notes = append(notes, note)
	}
	if err = rows.Err(); err != nil {
		return err, &notes
	}

	return nil, &notes
}

func GetDB() *DB {
	dbOnce.Do(func() {
		// Open database connection
		db, err := sql.Open("sqlite", "database.db")
		if err != nil {
			panic(err)
		}

		// Configure connection pool for concurrent access
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)

		// Try to enable WAL2 mode, fall back to WAL if not supported
		var journalMode string
		err = db.QueryRow("PRAGMA journal_mode=WAL2").Scan(&journalMode)
		if err != nil || journalMode == "delete" {
			// WAL2 not supported, try regular WAL
			err = db.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode)
			if err != nil {
				log.Printf("Warning: Failed to enable WAL mode: %v", err)
			} else {
				log.Printf("Database journal mode: %s (WAL2 not supported, using WAL)", journalMode)
			}
		} else {
			log.Printf("Database journal mode: %s", journalMode)
		}

		// Optimize PRAGMAs for concurrent federation workload
		// These need to be set as connection defaults
		db.Exec("PRAGMA synchronous = NORMAL")      // Reduces fsync calls
		db.Exec("PRAGMA cache_size = -64000")       // 64MB cache per connection
		db.Exec("PRAGMA temp_store = MEMORY")       // Store temp tables in RAM
		db.Exec("PRAGMA busy_timeout = 5000")       // Wait up to 5s for locks
		db.Exec("PRAGMA foreign_keys = ON")         // Enable FK constraints
		db.Exec("PRAGMA auto_vacuum = INCREMENTAL") // Better performance than FULL

		log.Printf("Database initialized with connection pooling (max 25 connections)")

		dbInstance = &DB{db: db}

		// Run initial schema setup
		err2 := dbInstance.RunMigrations()
		if err2 != nil {
			panic(err2)
		}
	})

	return dbInstance
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			log.Printf("error in transaction: %s", err)
			tx.Rollback()
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}
