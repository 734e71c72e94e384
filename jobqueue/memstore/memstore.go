// Package memstore implements in-memory job storage for jobqueue.
package memstore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/r2northstar/batchnet/jobqueue"
)

// Store stores jobs in-memory, keyed by an assigned hex id.
type Store struct {
	jobs sync.Map
}

// NewStore creates a new in-memory job Store.
func NewStore() *Store {
	return &Store{}
}

func (m *Store) SubmitJob(j jobqueue.Job) (string, error) {
	id, err := newJobID()
	if err != nil {
		return "", fmt.Errorf("assign job id: %w", err)
	}
	j.ID = id
	j.Accepted = time.Now().Unix()
	m.jobs.Store(id, j)
	return id, nil
}

func (m *Store) GetJob(id string) (jobqueue.Job, bool, error) {
	v, ok := m.jobs.Load(id)
	if !ok {
		return jobqueue.Job{}, false, nil
	}
	return v.(jobqueue.Job), true, nil
}

func newJobID() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
