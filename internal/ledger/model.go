package ledger

import (
	"strings"
	"time"
)

// Gender selects the ID partition a participant is allocated from.
type Gender string

const (
	Male   Gender = "male"
	Female Gender = "female"
)

// ParseGender normalises user input. Unknown values are rejected.
func ParseGender(s string) (Gender, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "m":
		return Male, true
	case "female", "f":
		return Female, true
	}
	return "", false
}

func (g Gender) Valid() bool { return g == Male || g == Female }

// Kind is the closed set of ledger entry types.
type Kind string

const (
	KindInitial    Kind = "INITIAL"
	KindAdd        Kind = "ADD"
	KindDeduct     Kind = "DEDUCT"
	KindAttendance Kind = "ATTENDANCE"
)

func (k Kind) Valid() bool {
	switch k {
	case KindInitial, KindAdd, KindDeduct, KindAttendance:
		return true
	}
	return false
}

// Actor is the staff identity snapshotted into every row it writes.
type Actor struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Participant is a sevak tracked by a public sequential ID.
type Participant struct {
	ID        int64     `json:"id"`
	SevakID   string    `json:"sevak_id"`
	Name      string    `json:"name"`
	Gender    Gender    `json:"gender"`
	Points    int       `json:"points"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is an append-only ledger entry.
type Transaction struct {
	ID            int64     `json:"id"`
	ParticipantID int64     `json:"-"`
	SevakID       string    `json:"sevak_id,omitempty"`
	SevakName     string    `json:"sevak_name,omitempty"`
	Actor         Actor     `json:"actor"`
	Kind          Kind      `json:"transaction_type"`
	PointsChange  int       `json:"points_change"`
	PointsBefore  int       `json:"points_before"`
	PointsAfter   int       `json:"points_after"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
}

// AttendanceRecord is the single check-in of a participant on a device date.
type AttendanceRecord struct {
	ID            int64     `json:"id"`
	ParticipantID int64     `json:"-"`
	Actor         Actor     `json:"actor"`
	Date          string    `json:"attendance_date"`
	CheckInTime   string    `json:"check_in_time"`
	PointsAwarded int       `json:"points_awarded"`
	IsOnTime      bool      `json:"is_on_time"`
	CreatedAt     time.Time `json:"created_at"`
}

// Feedback is a free-text review of a participant.
type Feedback struct {
	ID            int64     `json:"id"`
	ParticipantID int64     `json:"-"`
	SevakID       string    `json:"sevak_id,omitempty"`
	Reviewer      Actor     `json:"reviewer"`
	Body          string    `json:"feedback_text"`
	CreatedAt     time.Time `json:"created_at"`
}

// Summary aggregates a participant's ledger and attendance rows.
type Summary struct {
	TotalTransactions   int `json:"total_transactions"`
	TotalAttendanceDays int `json:"total_attendance_days"`
	TotalAdded          int `json:"total_added"`
	TotalDeducted       int `json:"total_deducted"`
	AttendancePoints    int `json:"attendance_points"`
	OnTimeDays          int `json:"on_time_days"`
	LateDays            int `json:"late_days"`
}

// summarize folds transactions and attendance rows into a Summary.
// INITIAL grants are counted as transactions but not as additions.
func summarize(txs []Transaction, atts []AttendanceRecord) Summary {
	var s Summary
	s.TotalTransactions = len(txs)
	for _, t := range txs {
		switch {
		case t.Kind == KindInitial:
		case t.PointsChange > 0:
			s.TotalAdded += t.PointsChange
		case t.PointsChange < 0:
			s.TotalDeducted -= t.PointsChange
		}
		if t.Kind == KindAttendance {
			s.AttendancePoints += t.PointsChange
		}
	}
	s.TotalAttendanceDays = len(atts)
	for _, a := range atts {
		if a.IsOnTime {
			s.OnTimeDays++
		} else {
			s.LateDays++
		}
	}
	return s
}

// LeaderboardRow is an active participant enriched with its Summary.
type LeaderboardRow struct {
	Participant
	Summary
}

// History is the full ledger of one participant, newest first.
type History struct {
	Participant  Participant        `json:"sevak"`
	Transactions []Transaction      `json:"transactions"`
	Attendance   []AttendanceRecord `json:"attendance"`
	Summary      Summary            `json:"summary"`
}

// StaffActivity aggregates the transactions written by one staff member.
type StaffActivity struct {
	Email              string    `json:"inspector_email"`
	Name               string    `json:"inspector_name"`
	Role               string    `json:"inspector_role"`
	UniqueParticipants int       `json:"unique_sevaks"`
	TotalTransactions  int       `json:"total_transactions"`
	TotalAdded         int       `json:"total_added"`
	TotalDeducted      int       `json:"total_deducted"`
	AttendancePoints   int       `json:"attendance_points"`
	FirstActivity      time.Time `json:"first_activity"`
	LastActivity       time.Time `json:"last_activity"`
}

// ActivityFilter bounds staff reports by device date, inclusive. Zero means open.
type ActivityFilter struct {
	From time.Time
	To   time.Time
}

func (f ActivityFilter) contains(t time.Time) bool {
	if !f.From.IsZero() && t.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.Before(f.To.AddDate(0, 0, 1)) {
		return false
	}
	return true
}

// FeedbackGroup lists a participant that has received feedback.
type FeedbackGroup struct {
	SevakID        string    `json:"sevak_id"`
	Name           string    `json:"name"`
	Gender         Gender    `json:"gender"`
	FeedbackCount  int       `json:"feedback_count"`
	LatestFeedback time.Time `json:"latest_feedback"`
}

// FeedbackStats are the global feedback totals.
type FeedbackStats struct {
	TotalFeedback      int `json:"total_feedback"`
	SevaksWithFeedback int `json:"sevaks_with_feedback"`
	Reviewers          int `json:"reviewers"`
}
