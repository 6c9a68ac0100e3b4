package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

type LeaderboardFilter struct {
	Gender Gender
}

const leaderboardGenKey = "leaderboard:gen"

// leaderboardKey scopes a cached leaderboard to a generation. Rows read
// before a write are stored under a generation nothing reads again.
func leaderboardKey(gen string, g Gender) string {
	if g == "" {
		g = "all"
	}
	return "leaderboard:" + gen + ":" + string(g)
}

func (s *Service) leaderboardGen(ctx context.Context) (string, error) {
	raw, err := s.cache.Get(ctx, leaderboardGenKey)
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "0", nil
	}
	return string(raw), nil
}

// Leaderboard ranks active participants by points, ties by sevak ID.
func (s *Service) Leaderboard(ctx context.Context, f LeaderboardFilter) ([]LeaderboardRow, error) {
	if f.Gender != "" && !f.Gender.Valid() {
		return nil, validationf("unknown gender %q", f.Gender)
	}
	key := ""
	if s.cache != nil {
		if gen, err := s.leaderboardGen(ctx); err != nil {
			s.log.WarnContext(ctx, "leaderboard cache read failed", slog.Any("error", err))
		} else {
			key = leaderboardKey(gen, f.Gender)
		}
	}
	if key != "" {
		if raw, err := s.cache.Get(ctx, key); err != nil {
			s.log.WarnContext(ctx, "leaderboard cache read failed", slog.Any("error", err))
		} else if raw != nil {
			var rows []LeaderboardRow
			if err := json.Unmarshal(raw, &rows); err == nil {
				return rows, nil
			}
		}
	}

	rows, err := s.store.Leaderboard(ctx, f.Gender)
	if err != nil {
		return nil, storageErr("leaderboard", err)
	}
	if rows == nil {
		rows = []LeaderboardRow{}
	}
	if key != "" {
		if raw, err := json.Marshal(rows); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
				s.log.WarnContext(ctx, "leaderboard cache write failed", slog.Any("error", err))
			}
		}
	}
	return rows, nil
}

// History returns an active participant's full ledger.
func (s *Service) History(ctx context.Context, sevakID string) (History, error) {
	p, err := s.GetParticipant(ctx, sevakID)
	if err != nil {
		return History{}, err
	}
	txs, err := s.store.Transactions(ctx, TransactionFilter{ParticipantID: p.ID})
	if err != nil {
		return History{}, storageErr("history", err)
	}
	atts, err := s.store.Attendance(ctx, p.ID)
	if err != nil {
		return History{}, storageErr("history", err)
	}
	return History{
		Participant:  p,
		Transactions: txs,
		Attendance:   atts,
		Summary:      summarize(txs, atts),
	}, nil
}

func (s *Service) StaffActivity(ctx context.Context, f ActivityFilter) ([]StaffActivity, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	rows, err := s.store.StaffActivity(ctx, f)
	if err != nil {
		return nil, storageErr("staff activity", err)
	}
	return rows, nil
}

// StaffTransactions lists what one staff member wrote, newest first.
func (s *Service) StaffTransactions(ctx context.Context, email string, f ActivityFilter) ([]Transaction, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, validationf("email is required")
	}
	if err := f.check(); err != nil {
		return nil, err
	}
	txs, err := s.store.Transactions(ctx, TransactionFilter{ActorEmail: email, Range: f})
	if err != nil {
		return nil, storageErr("staff transactions", err)
	}
	return txs, nil
}

func (f ActivityFilter) check() error {
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return validationf("end date is before start date")
	}
	return nil
}

// Drift is a participant whose stored balance disagrees with its ledger.
type Drift struct {
	SevakID string `json:"sevak_id"`
	Stored  int    `json:"stored"`
	Ledger  int    `json:"ledger"`
}

// Verify recomputes every balance from the ledger.
func (s *Service) Verify(ctx context.Context) ([]Drift, error) {
	ps, err := s.store.Participants(ctx, ParticipantFilter{})
	if err != nil {
		return nil, storageErr("verify", err)
	}
	var out []Drift
	for _, p := range ps {
		txs, err := s.store.Transactions(ctx, TransactionFilter{ParticipantID: p.ID})
		if err != nil {
			return nil, storageErr("verify", err)
		}
		sum := 0
		for _, t := range txs {
			sum += t.PointsChange
		}
		if sum != p.Points {
			out = append(out, Drift{SevakID: p.SevakID, Stored: p.Points, Ledger: sum})
		}
	}
	return out, nil
}
