package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sevakpoints/internal/ledger"
	"sevakpoints/internal/queue"
)

// MessageType tags import jobs on the queue.
const MessageType = "import"

// Job is a queued bulk import.
type Job struct {
	ID         string             `json:"id"`
	Filename   string             `json:"filename"`
	ArchiveURL string             `json:"archive_url,omitempty"`
	Actor      ledger.Actor       `json:"actor"`
	DeviceTime time.Time          `json:"device_time"`
	Rows       []ledger.ImportRow `json:"rows"`
}

func (j Job) Message() (queue.Message, error) {
	body, err := json.Marshal(j)
	if err != nil {
		return queue.Message{}, fmt.Errorf("encode job %s: %w", j.ID, err)
	}
	return queue.Message{Type: MessageType, Body: body}, nil
}

func DecodeJob(msg queue.Message) (Job, error) {
	if msg.Type != MessageType {
		return Job{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	var j Job
	if err := json.Unmarshal(msg.Body, &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if j.ID == "" {
		return Job{}, fmt.Errorf("decode job: missing id")
	}
	return j, nil
}

const (
	StatePending = "pending"
	StateDone    = "done"
	StateFailed  = "failed"
)

// Status is what clients poll for a job.
type Status struct {
	ID         string               `json:"id"`
	State      string               `json:"state"`
	Filename   string               `json:"filename"`
	ArchiveURL string               `json:"archive_url,omitempty"`
	Rows       int                  `json:"rows"`
	Report     *ledger.ImportReport `json:"report,omitempty"`
	Error      string               `json:"error,omitempty"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// KV is satisfied by store.Redis and store.MemKV.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// Reports keeps job statuses under import:<id>.
type Reports struct {
	kv  KV
	ttl time.Duration
}

func NewReports(kv KV, ttl time.Duration) *Reports {
	return &Reports{kv: kv, ttl: ttl}
}

func reportKey(id string) string { return "import:" + id }

func (r *Reports) Save(ctx context.Context, st Status) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode status %s: %w", st.ID, err)
	}
	return r.kv.Set(ctx, reportKey(st.ID), raw, r.ttl)
}

// Load returns false when the job is unknown or expired.
func (r *Reports) Load(ctx context.Context, id string) (Status, bool, error) {
	raw, err := r.kv.Get(ctx, reportKey(id))
	if err != nil || raw == nil {
		return Status{}, false, err
	}
	var st Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return Status{}, false, fmt.Errorf("decode status %s: %w", id, err)
	}
	return st, true, nil
}
