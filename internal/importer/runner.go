package importer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"sevakpoints/internal/cloudinary"
	"sevakpoints/internal/ledger"
	"sevakpoints/internal/queue"
)

// Archiver keeps a copy of the uploaded file. *cloudinary.Client satisfies it.
type Archiver interface {
	UploadRaw(ctx context.Context, data []byte, filename string) (*cloudinary.UploadResult, error)
}

// Submitter validates uploads and queues them.
type Submitter struct {
	q       queue.Queue
	reports *Reports
	archive Archiver
	log     *slog.Logger
}

// NewSubmitter builds a Submitter. archive may be nil.
func NewSubmitter(q queue.Queue, reports *Reports, archive Archiver, log *slog.Logger) *Submitter {
	if log == nil {
		log = slog.Default()
	}
	return &Submitter{q: q, reports: reports, archive: archive, log: log}
}

func invalid(format string, args ...any) error {
	return &ledger.Error{Kind: ledger.KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Submit decodes the file, archives it and queues a job. The returned status is pending.
func (s *Submitter) Submit(ctx context.Context, filename string, data []byte, actor ledger.Actor, dt ledger.DeviceTime) (Status, error) {
	records, err := ReadRecords(filename, data)
	if err != nil {
		return Status{}, invalid("%v", err)
	}
	rows := slices.Collect(Rows(records))
	switch {
	case len(rows) == 0:
		return Status{}, invalid("file has no rows")
	case len(rows) > MaxRows:
		return Status{}, invalid("file has %d rows, the limit is %d", len(rows), MaxRows)
	}

	job := Job{
		ID:         uuid.NewString(),
		Filename:   filename,
		Actor:      actor,
		DeviceTime: dt.Wall,
		Rows:       rows,
	}
	if s.archive != nil {
		res, err := s.archive.UploadRaw(ctx, data, filename)
		if err != nil {
			s.log.WarnContext(ctx, "import archive failed", slog.String("job", job.ID), slog.Any("error", err))
		} else {
			job.ArchiveURL = res.SecureURL
		}
	}

	st := Status{
		ID:         job.ID,
		State:      StatePending,
		Filename:   filename,
		ArchiveURL: job.ArchiveURL,
		Rows:       len(rows),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.reports.Save(ctx, st); err != nil {
		return Status{}, fmt.Errorf("save status: %w", err)
	}
	msg, err := job.Message()
	if err != nil {
		return Status{}, err
	}
	if err := s.q.Publish(ctx, msg); err != nil {
		return Status{}, fmt.Errorf("publish job: %w", err)
	}
	s.log.InfoContext(ctx, "import queued", slog.String("job", job.ID), slog.Int("rows", len(rows)), slog.String("actor", actor.Email))
	return st, nil
}

// Runner executes queued jobs against the ledger.
type Runner struct {
	svc     *ledger.Service
	reports *Reports
	log     *slog.Logger
}

func NewRunner(svc *ledger.Service, reports *Reports, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{svc: svc, reports: reports, log: log}
}

// Run imports every row of job and stores the final status.
func (r *Runner) Run(ctx context.Context, job Job) (Status, error) {
	st := Status{ID: job.ID, Filename: job.Filename, ArchiveURL: job.ArchiveURL, Rows: len(job.Rows)}
	rep, err := r.svc.BulkCreate(ctx, slices.Values(job.Rows), job.Actor, ledger.DeviceTime{Wall: job.DeviceTime})
	st.UpdatedAt = time.Now().UTC()
	if err != nil {
		st.State = StateFailed
		st.Error = ledger.PublicMessage(err)
	} else {
		st.State = StateDone
	}
	st.Report = &rep
	if serr := r.reports.Save(ctx, st); serr != nil {
		r.log.ErrorContext(ctx, "save import status failed", slog.String("job", job.ID), slog.Any("error", serr))
	}
	return st, err
}

// Consume runs jobs from q until ctx is done.
func (r *Runner) Consume(ctx context.Context, q queue.Queue) error {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	for msg := range msgs {
		if msg.Type != MessageType {
			continue
		}
		job, err := DecodeJob(msg)
		if err != nil {
			r.log.ErrorContext(ctx, "drop malformed job", slog.Any("error", err))
			continue
		}
		st, err := r.Run(ctx, job)
		if err != nil {
			r.log.ErrorContext(ctx, "import failed", slog.String("job", job.ID), slog.Any("error", err))
			continue
		}
		r.log.InfoContext(ctx, "import finished",
			slog.String("job", job.ID),
			slog.Int("created", len(st.Report.Created)),
			slog.Int("failed", len(st.Report.Failed)))
	}
	return nil
}
