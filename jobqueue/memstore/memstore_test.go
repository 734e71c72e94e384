package memstore

import (
	"testing"

	"github.com/r2northstar/batchnet/jobqueue"
)

func TestSubmitAndGetJob(t *testing.T) {
	s := NewStore()

	id, err := s.SubmitJob(jobqueue.Job{Owner: "alice", Script: "run.sh", Priority: 5, Cost: -3})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if id == "" {
		t.Fatalf("SubmitJob: got empty id")
	}

	got, ok, err := s.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !ok {
		t.Fatalf("GetJob: job %q not found", id)
	}
	if got.Owner != "alice" || got.Script != "run.sh" || got.Priority != 5 || got.Cost != -3 {
		t.Fatalf("GetJob: got %+v", got)
	}
	if got.Accepted == 0 {
		t.Fatalf("GetJob: Accepted was not stamped")
	}
}

func TestGetJobMissing(t *testing.T) {
	s := NewStore()
	_, ok, err := s.GetJob("nonexistent")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if ok {
		t.Fatalf("GetJob: expected not found")
	}
}

func TestSubmitJobAssignsDistinctIDs(t *testing.T) {
	s := NewStore()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := s.SubmitJob(jobqueue.Job{Owner: "bob"})
		if err != nil {
			t.Fatalf("SubmitJob: %v", err)
		}
		if seen[id] {
			t.Fatalf("SubmitJob: duplicate id %q", id)
		}
		seen[id] = true
	}
}
