// Package jobdb implements sqlite3 job storage for jobqueue.
package jobdb

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/r2northstar/batchnet/jobqueue"
)

// DB stores jobs in a sqlite3 database.
type DB struct {
	x *sqlx.DB
}

// Open opens a DB from the provided sqlite3 filename, migrating it to
// the latest schema version if needed.
func Open(name string) (*DB, error) {
	// note: WAL and a larger cache makes our writes and queries MUCH faster
	x, err := sqlx.Connect("sqlite3", (&url.URL{
		Path: name,
		RawQuery: (url.Values{
			"_journal":      {"WAL"},
			"_cache_size":   {"-32000"},
			"_busy_timeout": {"6000"},
		}).Encode(),
	}).String())
	if err != nil {
		return nil, err
	}
	db := &DB{x}

	cur, to, err := db.Version()
	if err != nil {
		return nil, fmt.Errorf("check version: %w", err)
	} else if cur > to {
		return nil, fmt.Errorf("database version %d is too new (expected %d)", cur, to)
	} else if cur != to {
		if err := db.MigrateUp(context.Background(), to); err != nil {
			return nil, fmt.Errorf("migrate (%d to %d): %w", cur, to, err)
		}
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.x.Close()
}

func (db *DB) SubmitJob(j jobqueue.Job) (string, error) {
	id, err := newJobID()
	if err != nil {
		return "", fmt.Errorf("assign job id: %w", err)
	}
	if _, err := db.x.NamedExec(`
		INSERT INTO
		jobs ( id,  owner,  script,  priority,  cost,  accepted)
		VALUES (:id, :owner, :script, :priority, :cost, :accepted)
	`, map[string]any{
		"id":       id,
		"owner":    j.Owner,
		"script":   j.Script,
		"priority": j.Priority,
		"cost":     j.Cost,
		"accepted": time.Now().Unix(),
	}); err != nil {
		return "", err
	}
	return id, nil
}

func (db *DB) GetJob(id string) (jobqueue.Job, bool, error) {
	var obj struct {
		ID       string `db:"id"`
		Owner    string `db:"owner"`
		Script   string `db:"script"`
		Priority uint32 `db:"priority"`
		Cost     int32  `db:"cost"`
		Accepted int64  `db:"accepted"`
	}
	if err := db.x.Get(&obj, `SELECT * FROM jobs WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobqueue.Job{}, false, nil
		}
		return jobqueue.Job{}, false, err
	}
	return jobqueue.Job{
		ID:       obj.ID,
		Owner:    obj.Owner,
		Script:   obj.Script,
		Priority: obj.Priority,
		Cost:     obj.Cost,
		Accepted: obj.Accepted,
	}, true, nil
}

func newJobID() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
