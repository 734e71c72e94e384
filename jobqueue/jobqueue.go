// Package jobqueue implements a minimal job-submission collaborator for
// the network core: it decodes SubmitJob requests off an authenticated
// connection using the DIS codec, persists them through a storage
// backend, and replies with the assigned job id.
//
// It is deliberately out of scope for queue scheduling policy; it exists
// to give the core's DIS codec and auth-gated dispatch path a concrete
// end-to-end exerciser.
package jobqueue

import (
	"fmt"

	"github.com/r2northstar/batchnet/pkg/dis"
	"github.com/r2northstar/batchnet/pkg/netcore"
)

// Job is one accepted submission.
type Job struct {
	ID       string
	Owner    string
	Script   string
	Priority uint32
	Cost     int32
	Accepted int64 // unix seconds
}

// Store persists submitted jobs. Implementations: memstore (in-memory)
// and jobdb (sqlite3).
type Store interface {
	// SubmitJob assigns an id to j and persists it, returning the
	// assigned id.
	SubmitJob(j Job) (id string, err error)
	// GetJob looks up a previously submitted job by id.
	GetJob(id string) (Job, bool, error)
}

// Status values carried in a SubmitJobReply, mirroring the coarse
// accept/reject distinction decode_DIS_Register's callers make on a
// batch request.
const (
	StatusAccepted uint64 = 0
	StatusRejected uint64 = 1
)

// SubmitJobRequest is the wire request: counted string owner, counted
// string script, unsigned int priority, signed int cost. Modeled on
// decode_DIS_Register's field list (owner, parent job id, child job id,
// dependency type, operation, cost) in dec_Reg.c, narrowed to the
// fields a job submission collaborator needs.
type SubmitJobRequest struct {
	Owner    string
	Script   string
	Priority uint32
	Cost     int32
}

const (
	maxOwnerLen  = 256
	maxScriptLen = 1 << 20
	maxJobIDLen  = 64
)

// DecodeSubmitJobRequest reads one SubmitJobRequest from s.
func DecodeSubmitJobRequest(s *dis.Stream) (SubmitJobRequest, error) {
	var req SubmitJobRequest

	owner, err := dis.ReadString(s)
	if err != nil {
		return req, fmt.Errorf("read owner: %w", err)
	}
	if len(owner) > maxOwnerLen {
		return req, fmt.Errorf("owner: %w", (&dis.Error{Status: dis.Overflow}))
	}
	script, err := dis.ReadString(s)
	if err != nil {
		return req, fmt.Errorf("read script: %w", err)
	}
	if len(script) > maxScriptLen {
		return req, fmt.Errorf("script: %w", (&dis.Error{Status: dis.Overflow}))
	}
	priority, err := dis.ReadUint(s)
	if err != nil {
		return req, fmt.Errorf("read priority: %w", err)
	}
	cost, err := dis.ReadInt(s)
	if err != nil {
		return req, fmt.Errorf("read cost: %w", err)
	}

	req.Owner = string(owner)
	req.Script = string(script)
	req.Priority = uint32(priority)
	req.Cost = int32(cost)
	return req, nil
}

// EncodeSubmitJobRequest writes req to w, for use by clients and tests.
func EncodeSubmitJobRequest(w *dis.Writer, req SubmitJobRequest) error {
	if err := dis.WriteString(w, []byte(req.Owner)); err != nil {
		return fmt.Errorf("write owner: %w", err)
	}
	if err := dis.WriteString(w, []byte(req.Script)); err != nil {
		return fmt.Errorf("write script: %w", err)
	}
	if err := dis.WriteUint(w, uint64(req.Priority)); err != nil {
		return fmt.Errorf("write priority: %w", err)
	}
	if err := dis.WriteInt(w, int64(req.Cost)); err != nil {
		return fmt.Errorf("write cost: %w", err)
	}
	return nil
}

// SubmitJobReply is the wire reply: unsigned int status, counted string
// job id.
type SubmitJobReply struct {
	Status uint64
	JobID  string
}

// EncodeSubmitJobReply writes reply to w.
func EncodeSubmitJobReply(w *dis.Writer, reply SubmitJobReply) error {
	if err := dis.WriteUint(w, reply.Status); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	if err := dis.WriteString(w, []byte(reply.JobID)); err != nil {
		return fmt.Errorf("write job id: %w", err)
	}
	return nil
}

// DecodeSubmitJobReply reads a SubmitJobReply from s, for use by clients
// and tests.
func DecodeSubmitJobReply(s *dis.Stream) (SubmitJobReply, error) {
	var reply SubmitJobReply
	status, err := dis.ReadUint(s)
	if err != nil {
		return reply, fmt.Errorf("read status: %w", err)
	}
	id, err := dis.ReadString(s)
	if err != nil {
		return reply, fmt.Errorf("read job id: %w", err)
	}
	if len(id) > maxJobIDLen {
		return reply, fmt.Errorf("job id: %w", (&dis.Error{Status: dis.Overflow}))
	}
	reply.Status = status
	reply.JobID = string(id)
	return reply, nil
}

// NewHandler returns a netcore.ReadHandler that decodes one
// SubmitJobRequest per call, persists it through store, and replies
// with a SubmitJobReply. It is registered as the primary application
// read function passed to InitNetwork.
func NewHandler(store Store) netcore.ReadHandler {
	return func(s *netcore.Server, sock netcore.SocketDescriptor) {
		in, out := s.ConnCodec(sock)

		req, err := DecodeSubmitJobRequest(in)
		if err != nil {
			s.Logger().Warn().Err(err).Int32("sock", int32(sock)).Msg("jobqueue: decode request failed")
			s.CloseNow(sock, "protocol")
			return
		}

		reply := SubmitJobReply{Status: StatusAccepted}
		id, err := store.SubmitJob(Job{
			Owner:    req.Owner,
			Script:   req.Script,
			Priority: req.Priority,
			Cost:     req.Cost,
		})
		if err != nil {
			s.Logger().Warn().Err(err).Msg("jobqueue: submit failed")
			reply.Status = StatusRejected
		} else {
			reply.JobID = id
		}

		if err := EncodeSubmitJobReply(out, reply); err != nil {
			s.Logger().Warn().Err(err).Msg("jobqueue: encode reply failed")
			s.CloseNow(sock, "protocol")
			return
		}
		if err := out.Flush(); err != nil {
			s.Logger().Warn().Err(err).Msg("jobqueue: flush reply failed")
			s.CloseNow(sock, "protocol")
		}
	}
}
