package ledger

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const (
	pgUniqueViolation     = "23505"
	attendanceUniqueIndex = "attendance_sevak_id_attendance_date_key"
)

// Repository persists the ledger in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// WithTx runs fn inside a READ COMMITTED transaction. Row locks taken by
// fn are held until commit or rollback.
func (r *Repository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}

type pgTx struct {
	tx *sql.Tx
}

const participantCols = `id, sevak_id, name, gender, points, is_active, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row scanner) (Participant, error) {
	var p Participant
	err := row.Scan(&p.ID, &p.SevakID, &p.Name, &p.Gender, &p.Points, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Participant{}, ErrNotFound
	}
	return p, errors.Wrap(err, "scan sevak")
}

func (t *pgTx) LockParticipant(ctx context.Context, sevakID string) (Participant, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+participantCols+`
		FROM sevaks WHERE sevak_id = $1
		FOR UPDATE
	`, sevakID)
	return scanParticipant(row)
}

func (t *pgTx) LockPartition(ctx context.Context, g Gender) ([]string, error) {
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "sevak_partition:"+string(g)); err != nil {
		return nil, errors.Wrap(err, "lock partition")
	}
	rows, err := t.tx.QueryContext(ctx, `SELECT sevak_id FROM sevaks WHERE gender = $1`, string(g))
	if err != nil {
		return nil, errors.Wrap(err, "partition ids")
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan sevak id")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "partition ids")
}

func (t *pgTx) InsertParticipant(ctx context.Context, p *Participant) error {
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO sevaks (sevak_id, name, gender, points, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, p.SevakID, p.Name, string(p.Gender), p.Points, p.IsActive, p.CreatedAt, p.UpdatedAt)
	if err := row.Scan(&p.ID); err != nil {
		if isUniqueViolation(err, "") {
			return &Error{Kind: KindConflict, Msg: "sevak id already exists", Err: err}
		}
		return errors.Wrap(err, "insert sevak")
	}
	return nil
}

func (t *pgTx) SaveParticipant(ctx context.Context, p Participant) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sevaks
		SET name = $2, points = $3, is_active = $4, updated_at = $5
		WHERE id = $1
	`, p.ID, p.Name, p.Points, p.IsActive, p.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "update sevak")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeParticipant relies on ON DELETE CASCADE for dependent rows.
func (t *pgTx) PurgeParticipant(ctx context.Context, participantID int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM sevaks WHERE id = $1`, participantID)
	return errors.Wrap(err, "delete sevak")
}

func (t *pgTx) InsertTransaction(ctx context.Context, x *Transaction) error {
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO transactions (sevak_id, inspector_email, inspector_name, inspector_role,
			transaction_type, points_change, points_before, points_after, description, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`, x.ParticipantID, x.Actor.Email, x.Actor.Name, x.Actor.Role,
		string(x.Kind), x.PointsChange, x.PointsBefore, x.PointsAfter, x.Description, x.CreatedAt)
	return errors.Wrap(row.Scan(&x.ID), "insert transaction")
}

func (t *pgTx) AddedBetween(ctx context.Context, participantID int64, from, to time.Time) (int, error) {
	var sum int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(points_change), 0)
		FROM transactions
		WHERE sevak_id = $1 AND transaction_type = 'ADD' AND created_at >= $2 AND created_at < $3
	`, participantID, from, to).Scan(&sum)
	return sum, errors.Wrap(err, "sum added")
}

func (t *pgTx) HasAttendance(ctx context.Context, participantID int64, date string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM attendance WHERE sevak_id = $1 AND attendance_date = $2::date)
	`, participantID, date).Scan(&exists)
	return exists, errors.Wrap(err, "attendance exists")
}

func (t *pgTx) InsertAttendance(ctx context.Context, a *AttendanceRecord) error {
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO attendance (sevak_id, inspector_email, inspector_name, inspector_role,
			attendance_date, check_in_time, points_awarded, is_on_time, created_at)
		VALUES ($1,$2,$3,$4,$5::date,$6::time,$7,$8,$9)
		RETURNING id
	`, a.ParticipantID, a.Actor.Email, a.Actor.Name, a.Actor.Role,
		a.Date, a.CheckInTime, a.PointsAwarded, a.IsOnTime, a.CreatedAt)
	if err := row.Scan(&a.ID); err != nil {
		if isUniqueViolation(err, attendanceUniqueIndex) {
			return ErrAlreadyMarked
		}
		return errors.Wrap(err, "insert attendance")
	}
	return nil
}

func (t *pgTx) InsertFeedback(ctx context.Context, f *Feedback) error {
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO feedback (sevak_id, reviewer_email, reviewer_name, reviewer_role, feedback_text, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, f.ParticipantID, f.Reviewer.Email, f.Reviewer.Name, f.Reviewer.Role, f.Body, f.CreatedAt)
	return errors.Wrap(row.Scan(&f.ID), "insert feedback")
}

// isUniqueViolation matches a 23505 error, optionally on a named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func (r *Repository) Participant(ctx context.Context, sevakID string) (Participant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+participantCols+` FROM sevaks WHERE sevak_id = $1`, sevakID)
	return scanParticipant(row)
}

func (r *Repository) Participants(ctx context.Context, f ParticipantFilter) ([]Participant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+participantCols+`
		FROM sevaks
		WHERE ($1::text = '' OR gender = $1::text) AND (NOT $2::bool OR is_active)
		ORDER BY sevak_id
	`, string(f.Gender), f.ActiveOnly)
	if err != nil {
		return nil, errors.Wrap(err, "list sevaks")
	}
	defer rows.Close()
	out := []Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "list sevaks")
}

// rangeArgs turns an inclusive date filter into half-open instants. Zero bounds become NULL.
func rangeArgs(f ActivityFilter) (from, to any) {
	if !f.From.IsZero() {
		from = f.From
	}
	if !f.To.IsZero() {
		to = f.To.AddDate(0, 0, 1)
	}
	return from, to
}

func (r *Repository) Transactions(ctx context.Context, f TransactionFilter) ([]Transaction, error) {
	query := `
		SELECT t.id, t.sevak_id, s.sevak_id, s.name, t.inspector_email, t.inspector_name, t.inspector_role,
			t.transaction_type, t.points_change, t.points_before, t.points_after, t.description, t.created_at
		FROM transactions t
		JOIN sevaks s ON s.id = t.sevak_id`
	var (
		clauses []string
		args    []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.ParticipantID != 0 {
		clauses = append(clauses, "t.sevak_id = "+arg(f.ParticipantID))
	}
	if f.ActorEmail != "" {
		clauses = append(clauses, "t.inspector_email = "+arg(f.ActorEmail))
	}
	from, to := rangeArgs(f.Range)
	if from != nil {
		clauses = append(clauses, "t.created_at >= "+arg(from))
	}
	if to != nil {
		clauses = append(clauses, "t.created_at < "+arg(to))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY t.created_at DESC, t.id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list transactions")
	}
	defer rows.Close()
	out := []Transaction{}
	for rows.Next() {
		var x Transaction
		if err := rows.Scan(&x.ID, &x.ParticipantID, &x.SevakID, &x.SevakName,
			&x.Actor.Email, &x.Actor.Name, &x.Actor.Role,
			&x.Kind, &x.PointsChange, &x.PointsBefore, &x.PointsAfter, &x.Description, &x.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan transaction")
		}
		out = append(out, x)
	}
	return out, errors.Wrap(rows.Err(), "list transactions")
}

func (r *Repository) Attendance(ctx context.Context, participantID int64) ([]AttendanceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sevak_id, inspector_email, inspector_name, inspector_role,
			to_char(attendance_date, 'YYYY-MM-DD'), to_char(check_in_time, 'HH24:MI:SS'),
			points_awarded, is_on_time, created_at
		FROM attendance
		WHERE sevak_id = $1
		ORDER BY created_at DESC, id DESC
	`, participantID)
	if err != nil {
		return nil, errors.Wrap(err, "list attendance")
	}
	defer rows.Close()
	out := []AttendanceRecord{}
	for rows.Next() {
		var a AttendanceRecord
		if err := rows.Scan(&a.ID, &a.ParticipantID, &a.Actor.Email, &a.Actor.Name, &a.Actor.Role,
			&a.Date, &a.CheckInTime, &a.PointsAwarded, &a.IsOnTime, &a.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan attendance")
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "list attendance")
}

func (r *Repository) Leaderboard(ctx context.Context, g Gender) ([]LeaderboardRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.sevak_id, s.name, s.gender, s.points, s.is_active, s.created_at, s.updated_at,
			COALESCE(t.total, 0), COALESCE(a.days, 0),
			COALESCE(t.added, 0), COALESCE(t.deducted, 0), COALESCE(t.attendance_points, 0),
			COALESCE(a.on_time, 0), COALESCE(a.late, 0)
		FROM sevaks s
		LEFT JOIN (
			SELECT sevak_id,
				COUNT(*) AS total,
				SUM(CASE WHEN transaction_type <> 'INITIAL' AND points_change > 0 THEN points_change ELSE 0 END) AS added,
				SUM(CASE WHEN points_change < 0 THEN -points_change ELSE 0 END) AS deducted,
				SUM(CASE WHEN transaction_type = 'ATTENDANCE' THEN points_change ELSE 0 END) AS attendance_points
			FROM transactions GROUP BY sevak_id
		) t ON t.sevak_id = s.id
		LEFT JOIN (
			SELECT sevak_id,
				COUNT(*) AS days,
				COUNT(*) FILTER (WHERE is_on_time) AS on_time,
				COUNT(*) FILTER (WHERE NOT is_on_time) AS late
			FROM attendance GROUP BY sevak_id
		) a ON a.sevak_id = s.id
		WHERE s.is_active AND ($1::text = '' OR s.gender = $1::text)
		ORDER BY s.points DESC, s.sevak_id ASC
	`, string(g))
	if err != nil {
		return nil, errors.Wrap(err, "leaderboard")
	}
	defer rows.Close()
	out := []LeaderboardRow{}
	for rows.Next() {
		var lr LeaderboardRow
		p, sm := &lr.Participant, &lr.Summary
		if err := rows.Scan(&p.ID, &p.SevakID, &p.Name, &p.Gender, &p.Points, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
			&sm.TotalTransactions, &sm.TotalAttendanceDays, &sm.TotalAdded, &sm.TotalDeducted,
			&sm.AttendancePoints, &sm.OnTimeDays, &sm.LateDays); err != nil {
			return nil, errors.Wrap(err, "scan leaderboard")
		}
		out = append(out, lr)
	}
	return out, errors.Wrap(rows.Err(), "leaderboard")
}

func (r *Repository) StaffActivity(ctx context.Context, f ActivityFilter) ([]StaffActivity, error) {
	from, to := rangeArgs(f)
	rows, err := r.db.QueryContext(ctx, `
		SELECT inspector_email,
			(ARRAY_AGG(inspector_name ORDER BY created_at DESC, id DESC))[1],
			(ARRAY_AGG(inspector_role ORDER BY created_at DESC, id DESC))[1],
			COUNT(DISTINCT sevak_id), COUNT(*),
			COALESCE(SUM(points_change) FILTER (WHERE transaction_type = 'ADD'), 0),
			COALESCE(SUM(-points_change) FILTER (WHERE transaction_type = 'DEDUCT'), 0),
			COALESCE(SUM(points_change) FILTER (WHERE transaction_type = 'ATTENDANCE'), 0),
			MIN(created_at), MAX(created_at)
		FROM transactions
		WHERE ($1::timestamptz IS NULL OR created_at >= $1::timestamptz)
			AND ($2::timestamptz IS NULL OR created_at < $2::timestamptz)
		GROUP BY inspector_email
		ORDER BY MAX(created_at) DESC, inspector_email
	`, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "staff activity")
	}
	defer rows.Close()
	out := []StaffActivity{}
	for rows.Next() {
		var sa StaffActivity
		if err := rows.Scan(&sa.Email, &sa.Name, &sa.Role, &sa.UniqueParticipants, &sa.TotalTransactions,
			&sa.TotalAdded, &sa.TotalDeducted, &sa.AttendancePoints, &sa.FirstActivity, &sa.LastActivity); err != nil {
			return nil, errors.Wrap(err, "scan staff activity")
		}
		out = append(out, sa)
	}
	return out, errors.Wrap(rows.Err(), "staff activity")
}

func (r *Repository) Feedback(ctx context.Context, participantID int64) ([]Feedback, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT f.id, f.sevak_id, s.sevak_id, f.reviewer_email, f.reviewer_name, f.reviewer_role, f.feedback_text, f.created_at
		FROM feedback f
		JOIN sevaks s ON s.id = f.sevak_id
		WHERE f.sevak_id = $1
		ORDER BY f.created_at DESC, f.id DESC
	`, participantID)
	if err != nil {
		return nil, errors.Wrap(err, "list feedback")
	}
	defer rows.Close()
	out := []Feedback{}
	for rows.Next() {
		var fb Feedback
		if err := rows.Scan(&fb.ID, &fb.ParticipantID, &fb.SevakID,
			&fb.Reviewer.Email, &fb.Reviewer.Name, &fb.Reviewer.Role, &fb.Body, &fb.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan feedback")
		}
		out = append(out, fb)
	}
	return out, errors.Wrap(rows.Err(), "list feedback")
}

func (r *Repository) FeedbackGroups(ctx context.Context, g Gender) ([]FeedbackGroup, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.sevak_id, s.name, s.gender, COUNT(f.id), MAX(f.created_at)
		FROM sevaks s
		JOIN feedback f ON f.sevak_id = s.id
		WHERE s.is_active AND ($1::text = '' OR s.gender = $1::text)
		GROUP BY s.id, s.sevak_id, s.name, s.gender
		ORDER BY MAX(f.created_at) DESC, s.sevak_id
	`, string(g))
	if err != nil {
		return nil, errors.Wrap(err, "feedback groups")
	}
	defer rows.Close()
	out := []FeedbackGroup{}
	for rows.Next() {
		var fg FeedbackGroup
		if err := rows.Scan(&fg.SevakID, &fg.Name, &fg.Gender, &fg.FeedbackCount, &fg.LatestFeedback); err != nil {
			return nil, errors.Wrap(err, "scan feedback group")
		}
		out = append(out, fg)
	}
	return out, errors.Wrap(rows.Err(), "feedback groups")
}

func (r *Repository) FeedbackStats(ctx context.Context) (FeedbackStats, error) {
	var st FeedbackStats
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT sevak_id), COUNT(DISTINCT reviewer_email) FROM feedback
	`).Scan(&st.TotalFeedback, &st.SevaksWithFeedback, &st.Reviewers)
	return st, errors.Wrap(err, "feedback stats")
}
