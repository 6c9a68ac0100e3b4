package ledger

import (
	"context"
	"log/slog"
	"time"
)

type AttendanceRequest struct {
	SevakID    string     `json:"sevak_id" validate:"required"`
	Actor      Actor      `json:"-" validate:"-"`
	DeviceTime DeviceTime `json:"-" validate:"-"`
}

type AttendanceResult struct {
	SevakID        string `json:"sevak_id"`
	Name           string `json:"name"`
	PreviousPoints int    `json:"previous_points"`
	NewPoints      int    `json:"new_points"`
	PointsAwarded  int    `json:"points_awarded"`
	IsOnTime       bool   `json:"is_on_time"`
	CheckInTime    string `json:"check_in_time"`
}

// onTime reports whether a wall clock check-in is at or before the cutoff minute.
func (p Policy) onTime(wall time.Time) bool {
	h, m := wall.Hour(), wall.Minute()
	return h < p.CutoffHour || (h == p.CutoffHour && m <= p.CutoffMinute)
}

// MarkAttendance records the single check-in of a participant for the
// device date and awards the on-time or late tier.
func (s *Service) MarkAttendance(ctx context.Context, req AttendanceRequest) (res AttendanceResult, err error) {
	start := time.Now()
	defer func() {
		s.observe(ctx, "mark_attendance", start, err,
			slog.String("sevak_id", req.SevakID),
			slog.String("actor", req.Actor.Email))
	}()

	req.SevakID = normalizeSevakID(req.SevakID)
	if err = checkStruct(req); err != nil {
		return AttendanceResult{}, err
	}
	if err = checkActor(req.Actor); err != nil {
		return AttendanceResult{}, err
	}
	if err = checkDeviceTime(req.DeviceTime); err != nil {
		return AttendanceResult{}, err
	}

	wall := req.DeviceTime.Wall
	date := req.DeviceTime.Date()

	err = s.store.WithTx(ctx, func(tx Tx) error {
		p, err := activeParticipant(ctx, tx, req.SevakID)
		if err != nil {
			return err
		}
		marked, err := tx.HasAttendance(ctx, p.ID, date)
		if err != nil {
			return err
		}
		if marked {
			return ErrAlreadyMarked
		}

		onTime := s.policy.onTime(wall)
		award, desc := s.policy.LatePoints, "Late attendance"
		if onTime {
			award, desc = s.policy.OnTimePoints, "On-time attendance"
		}

		before := p.Points
		p.Points += award
		p.UpdatedAt = wall
		if err := tx.SaveParticipant(ctx, p); err != nil {
			return err
		}
		rec := AttendanceRecord{
			ParticipantID: p.ID,
			Actor:         req.Actor,
			Date:          date,
			CheckInTime:   req.DeviceTime.Clock(),
			PointsAwarded: award,
			IsOnTime:      onTime,
			CreatedAt:     wall,
		}
		if err := tx.InsertAttendance(ctx, &rec); err != nil {
			return err
		}
		err = tx.InsertTransaction(ctx, &Transaction{
			ParticipantID: p.ID,
			SevakID:       p.SevakID,
			SevakName:     p.Name,
			Actor:         req.Actor,
			Kind:          KindAttendance,
			PointsChange:  award,
			PointsBefore:  before,
			PointsAfter:   p.Points,
			Description:   desc,
			CreatedAt:     wall,
		})
		if err != nil {
			return err
		}
		res = AttendanceResult{
			SevakID:        p.SevakID,
			Name:           p.Name,
			PreviousPoints: before,
			NewPoints:      p.Points,
			PointsAwarded:  award,
			IsOnTime:       onTime,
			CheckInTime:    rec.CheckInTime,
		}
		return nil
	})
	if err != nil {
		return AttendanceResult{}, storageErr("mark attendance", err)
	}
	s.mutated(ctx)
	return res, nil
}
