package ledger

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

const maxFeedbackLen = 1000

type FeedbackRequest struct {
	SevakID    string
	Body       string
	Actor      Actor
	DeviceTime DeviceTime
}

// SubmitFeedback stores a review of an active participant and returns its id.
func (s *Service) SubmitFeedback(ctx context.Context, req FeedbackRequest) (id int64, err error) {
	start := time.Now()
	defer func() {
		s.observe(ctx, "submit_feedback", start, err,
			slog.String("sevak_id", req.SevakID),
			slog.String("actor", req.Actor.Email))
	}()

	req.SevakID = normalizeSevakID(req.SevakID)
	req.Body = strings.TrimSpace(req.Body)
	switch {
	case req.SevakID == "":
		return 0, validationf("sevak_id is required")
	case req.Body == "":
		return 0, validationf("feedback text is required")
	case utf8.RuneCountInString(req.Body) > maxFeedbackLen:
		return 0, validationf("feedback must be at most %d characters long", maxFeedbackLen)
	}
	if err = checkActor(req.Actor); err != nil {
		return 0, err
	}
	if err = checkDeviceTime(req.DeviceTime); err != nil {
		return 0, err
	}

	err = s.store.WithTx(ctx, func(tx Tx) error {
		p, err := activeParticipant(ctx, tx, req.SevakID)
		if err != nil {
			return err
		}
		f := Feedback{
			ParticipantID: p.ID,
			SevakID:       p.SevakID,
			Reviewer:      req.Actor,
			Body:          req.Body,
			CreatedAt:     req.DeviceTime.Wall,
		}
		if err := tx.InsertFeedback(ctx, &f); err != nil {
			return err
		}
		id = f.ID
		return nil
	})
	if err != nil {
		return 0, storageErr("submit feedback", err)
	}
	return id, nil
}

// FeedbackFor lists a participant's feedback, newest first.
func (s *Service) FeedbackFor(ctx context.Context, sevakID string) ([]Feedback, error) {
	p, err := s.GetParticipant(ctx, sevakID)
	if err != nil {
		return nil, err
	}
	fs, err := s.store.Feedback(ctx, p.ID)
	if err != nil {
		return nil, storageErr("feedback for", err)
	}
	return fs, nil
}

// FeedbackBySevak groups active participants that have feedback.
func (s *Service) FeedbackBySevak(ctx context.Context, g Gender) ([]FeedbackGroup, error) {
	if g != "" && !g.Valid() {
		return nil, validationf("unknown gender %q", g)
	}
	gs, err := s.store.FeedbackGroups(ctx, g)
	if err != nil {
		return nil, storageErr("feedback by sevak", err)
	}
	return gs, nil
}

func (s *Service) FeedbackStats(ctx context.Context) (FeedbackStats, error) {
	st, err := s.store.FeedbackStats(ctx)
	if err != nil {
		return FeedbackStats{}, storageErr("feedback stats", err)
	}
	return st, nil
}
