package ledger

import (
	"context"
	"time"
)

// Store is the durable Ledger Store. Every balance mutation runs inside WithTx.
type Store interface {
	Reader

	// WithTx runs fn in one atomic unit. A non-nil error from fn rolls back
	// every write fn made.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side of the store, only reachable inside WithTx.
type Tx interface {
	// LockParticipant loads a participant by public ID and holds its row
	// until the unit of work ends. Missing rows yield ErrNotFound.
	LockParticipant(ctx context.Context, sevakID string) (Participant, error)
	// LockPartition serialises ID allocation for g and returns the public
	// IDs currently stored for it, inactive rows included.
	LockPartition(ctx context.Context, g Gender) ([]string, error)
	InsertParticipant(ctx context.Context, p *Participant) error
	SaveParticipant(ctx context.Context, p Participant) error
	// PurgeParticipant removes the participant and every row that references it.
	PurgeParticipant(ctx context.Context, participantID int64) error

	InsertTransaction(ctx context.Context, t *Transaction) error
	// AddedBetween sums ADD entries of a participant with from <= created_at < to.
	AddedBetween(ctx context.Context, participantID int64, from, to time.Time) (int, error)

	HasAttendance(ctx context.Context, participantID int64, date string) (bool, error)
	InsertAttendance(ctx context.Context, a *AttendanceRecord) error

	InsertFeedback(ctx context.Context, f *Feedback) error
}

// ParticipantFilter narrows participant listings. Empty Gender matches all.
type ParticipantFilter struct {
	Gender     Gender
	ActiveOnly bool
}

// TransactionFilter selects ledger rows by owner or by author.
type TransactionFilter struct {
	ParticipantID int64
	ActorEmail    string
	Range         ActivityFilter
}

// Reader is the read-only side used by reporting.
type Reader interface {
	// Participant returns a participant regardless of its active flag.
	Participant(ctx context.Context, sevakID string) (Participant, error)
	Participants(ctx context.Context, f ParticipantFilter) ([]Participant, error)
	// Transactions are returned newest first, ties broken by id descending.
	Transactions(ctx context.Context, f TransactionFilter) ([]Transaction, error)
	Attendance(ctx context.Context, participantID int64) ([]AttendanceRecord, error)
	Leaderboard(ctx context.Context, g Gender) ([]LeaderboardRow, error)
	StaffActivity(ctx context.Context, f ActivityFilter) ([]StaffActivity, error)
	Feedback(ctx context.Context, participantID int64) ([]Feedback, error)
	FeedbackGroups(ctx context.Context, g Gender) ([]FeedbackGroup, error)
	FeedbackStats(ctx context.Context) (FeedbackStats, error)
}
