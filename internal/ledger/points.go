package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type PointsRequest struct {
	SevakID    string     `json:"sevak_id" validate:"required"`
	Amount     int        `json:"points" validate:"gt=0"`
	Note       string     `json:"note" validate:"max=500"`
	Actor      Actor      `json:"-" validate:"-"`
	DeviceTime DeviceTime `json:"-" validate:"-"`
}

// BalanceChange is the before/after summary returned by balance mutations.
type BalanceChange struct {
	SevakID        string `json:"sevak_id"`
	Name           string `json:"name"`
	PreviousPoints int    `json:"previous_points"`
	NewPoints      int    `json:"new_points"`
}

func (s *Service) AddPoints(ctx context.Context, req PointsRequest) (BalanceChange, error) {
	return s.applyPoints(ctx, "add_points", KindAdd, req)
}

// DeductPoints never takes a balance below zero; a short balance is rejected whole.
func (s *Service) DeductPoints(ctx context.Context, req PointsRequest) (BalanceChange, error) {
	return s.applyPoints(ctx, "deduct_points", KindDeduct, req)
}

func (s *Service) applyPoints(ctx context.Context, op string, kind Kind, req PointsRequest) (res BalanceChange, err error) {
	start := time.Now()
	defer func() {
		s.observe(ctx, op, start, err,
			slog.String("sevak_id", req.SevakID),
			slog.String("actor", req.Actor.Email),
			slog.Int("amount", req.Amount))
	}()

	req.SevakID = normalizeSevakID(req.SevakID)
	if err = checkStruct(req); err != nil {
		return BalanceChange{}, err
	}
	if err = checkActor(req.Actor); err != nil {
		return BalanceChange{}, err
	}
	if err = checkDeviceTime(req.DeviceTime); err != nil {
		return BalanceChange{}, err
	}

	err = s.store.WithTx(ctx, func(tx Tx) error {
		p, err := activeParticipant(ctx, tx, req.SevakID)
		if err != nil {
			return err
		}

		delta := req.Amount
		desc := fmt.Sprintf("Added %d points", req.Amount)
		if kind == KindDeduct {
			if p.Points < req.Amount {
				return ErrInsufficientBalance
			}
			delta = -req.Amount
			desc = fmt.Sprintf("Deducted %d points", req.Amount)
		} else if s.policy.DailyAddCeiling > 0 {
			from, to := dayBounds(req.DeviceTime.Wall)
			added, err := tx.AddedBetween(ctx, p.ID, from, to)
			if err != nil {
				return err
			}
			if added+req.Amount > s.policy.DailyAddCeiling {
				return ErrDailyCeiling
			}
		}
		if req.Note != "" {
			desc = req.Note
		}

		before := p.Points
		p.Points += delta
		p.UpdatedAt = req.DeviceTime.Wall
		if err := tx.SaveParticipant(ctx, p); err != nil {
			return err
		}
		err = tx.InsertTransaction(ctx, &Transaction{
			ParticipantID: p.ID,
			SevakID:       p.SevakID,
			SevakName:     p.Name,
			Actor:         req.Actor,
			Kind:          kind,
			PointsChange:  delta,
			PointsBefore:  before,
			PointsAfter:   p.Points,
			Description:   desc,
			CreatedAt:     req.DeviceTime.Wall,
		})
		if err != nil {
			return err
		}
		res = BalanceChange{SevakID: p.SevakID, Name: p.Name, PreviousPoints: before, NewPoints: p.Points}
		return nil
	})
	if err != nil {
		return BalanceChange{}, storageErr(op, err)
	}
	s.mutated(ctx)
	return res, nil
}

// dayBounds is the half-open local day containing t.
func dayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return from, from.AddDate(0, 0, 1)
}
