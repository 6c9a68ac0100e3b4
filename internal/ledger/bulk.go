package ledger

import (
	"context"
	"iter"
	"log/slog"
)

// ImportRow is one raw participant row from a spreadsheet. Line is 1-based
// in the source file.
type ImportRow struct {
	Line   int    `json:"line"`
	Name   string `json:"name"`
	Gender Gender `json:"gender"`
}

type ImportFailure struct {
	Line  int    `json:"line"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

type ImportReport struct {
	Total   int             `json:"total"`
	Created []Participant   `json:"created"`
	Failed  []ImportFailure `json:"failed"`
}

// BulkCreate creates one participant per row, each in its own unit of work.
// A failing row is recorded and the rest continue. Only a cancelled context
// stops the run early.
func (s *Service) BulkCreate(ctx context.Context, rows iter.Seq[ImportRow], actor Actor, dt DeviceTime) (ImportReport, error) {
	rep := ImportReport{Created: []Participant{}, Failed: []ImportFailure{}}
	if err := checkActor(actor); err != nil {
		return rep, err
	}
	if err := checkDeviceTime(dt); err != nil {
		return rep, err
	}
	for row := range rows {
		if err := ctx.Err(); err != nil {
			return rep, storageErr("bulk create", err)
		}
		rep.Total++
		p, err := s.CreateParticipant(ctx, NewParticipant{
			Name:       row.Name,
			Gender:     row.Gender,
			Actor:      actor,
			DeviceTime: dt,
		})
		if err != nil {
			rep.Failed = append(rep.Failed, ImportFailure{Line: row.Line, Name: row.Name, Error: PublicMessage(err)})
			continue
		}
		rep.Created = append(rep.Created, p)
	}
	s.log.InfoContext(ctx, "bulk import finished",
		slog.String("actor", actor.Email),
		slog.Int("total", rep.Total),
		slog.Int("created", len(rep.Created)),
		slog.Int("failed", len(rep.Failed)))
	return rep, nil
}
