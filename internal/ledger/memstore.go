package ledger

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemStore is an in-process Store for development and tests. Writers are
// serialised; each unit of work runs on a copy that replaces the live state
// only on commit.
type MemStore struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	state   *memState

	// fail, when set, is consulted before every write; a non-nil error
	// aborts the unit of work at that step.
	fail func(op string) error
}

type memState struct {
	seq          int64
	participants []Participant
	txs          []Transaction
	atts         []AttendanceRecord
	feedback     []Feedback
}

func (s *memState) clone() *memState {
	return &memState{
		seq:          s.seq,
		participants: slices.Clone(s.participants),
		txs:          slices.Clone(s.txs),
		atts:         slices.Clone(s.atts),
		feedback:     slices.Clone(s.feedback),
	}
}

func (s *memState) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *memState) bySevakID(id string) (int, bool) {
	for i, p := range s.participants {
		if p.SevakID == id {
			return i, true
		}
	}
	return 0, false
}

func (s *memState) byID(id int64) (Participant, bool) {
	for _, p := range s.participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

func NewMemStore() *MemStore {
	return &MemStore{state: &memState{}}
}

func (m *MemStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	work := m.state.clone()
	m.mu.RUnlock()

	if err := fn(&memTx{st: work, fail: m.fail}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.state = work
	m.mu.Unlock()
	return nil
}

func (m *MemStore) read() *memState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

type memTx struct {
	st   *memState
	fail func(op string) error
}

func (t *memTx) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.fail != nil {
		return t.fail(op)
	}
	return nil
}

func (t *memTx) LockParticipant(ctx context.Context, sevakID string) (Participant, error) {
	if err := ctx.Err(); err != nil {
		return Participant{}, err
	}
	i, ok := t.st.bySevakID(sevakID)
	if !ok {
		return Participant{}, ErrNotFound
	}
	return t.st.participants[i], nil
}

func (t *memTx) LockPartition(ctx context.Context, g Gender) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	for _, p := range t.st.participants {
		if p.Gender == g {
			ids = append(ids, p.SevakID)
		}
	}
	return ids, nil
}

func (t *memTx) InsertParticipant(ctx context.Context, p *Participant) error {
	if err := t.check(ctx, "insert_participant"); err != nil {
		return err
	}
	if _, dup := t.st.bySevakID(p.SevakID); dup {
		return &Error{Kind: KindConflict, Msg: "sevak id already exists"}
	}
	p.ID = t.st.nextID()
	t.st.participants = append(t.st.participants, *p)
	return nil
}

func (t *memTx) SaveParticipant(ctx context.Context, p Participant) error {
	if err := t.check(ctx, "save_participant"); err != nil {
		return err
	}
	i, ok := t.st.bySevakID(p.SevakID)
	if !ok {
		return ErrNotFound
	}
	t.st.participants[i] = p
	return nil
}

func (t *memTx) PurgeParticipant(ctx context.Context, participantID int64) error {
	if err := t.check(ctx, "purge_participant"); err != nil {
		return err
	}
	t.st.participants = slices.DeleteFunc(t.st.participants, func(p Participant) bool { return p.ID == participantID })
	t.st.txs = slices.DeleteFunc(t.st.txs, func(x Transaction) bool { return x.ParticipantID == participantID })
	t.st.atts = slices.DeleteFunc(t.st.atts, func(a AttendanceRecord) bool { return a.ParticipantID == participantID })
	t.st.feedback = slices.DeleteFunc(t.st.feedback, func(f Feedback) bool { return f.ParticipantID == participantID })
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, x *Transaction) error {
	if err := t.check(ctx, "insert_transaction"); err != nil {
		return err
	}
	x.ID = t.st.nextID()
	t.st.txs = append(t.st.txs, *x)
	return nil
}

func (t *memTx) AddedBetween(ctx context.Context, participantID int64, from, to time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sum := 0
	for _, x := range t.st.txs {
		if x.ParticipantID == participantID && x.Kind == KindAdd &&
			!x.CreatedAt.Before(from) && x.CreatedAt.Before(to) {
			sum += x.PointsChange
		}
	}
	return sum, nil
}

func (t *memTx) HasAttendance(ctx context.Context, participantID int64, date string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return slices.ContainsFunc(t.st.atts, func(a AttendanceRecord) bool {
		return a.ParticipantID == participantID && a.Date == date
	}), nil
}

func (t *memTx) InsertAttendance(ctx context.Context, a *AttendanceRecord) error {
	if err := t.check(ctx, "insert_attendance"); err != nil {
		return err
	}
	if marked, _ := t.HasAttendance(ctx, a.ParticipantID, a.Date); marked {
		return ErrAlreadyMarked
	}
	a.ID = t.st.nextID()
	t.st.atts = append(t.st.atts, *a)
	return nil
}

func (t *memTx) InsertFeedback(ctx context.Context, f *Feedback) error {
	if err := t.check(ctx, "insert_feedback"); err != nil {
		return err
	}
	f.ID = t.st.nextID()
	t.st.feedback = append(t.st.feedback, *f)
	return nil
}

func (m *MemStore) Participant(ctx context.Context, sevakID string) (Participant, error) {
	if err := ctx.Err(); err != nil {
		return Participant{}, err
	}
	st := m.read()
	i, ok := st.bySevakID(sevakID)
	if !ok {
		return Participant{}, ErrNotFound
	}
	return st.participants[i], nil
}

func (m *MemStore) Participants(ctx context.Context, f ParticipantFilter) ([]Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []Participant{}
	for _, p := range m.read().participants {
		if f.Gender != "" && p.Gender != f.Gender {
			continue
		}
		if f.ActiveOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Participant) int { return cmp.Compare(a.SevakID, b.SevakID) })
	return out, nil
}

func newestTxFirst(a, b Transaction) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

func (m *MemStore) Transactions(ctx context.Context, f TransactionFilter) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := m.read()
	out := []Transaction{}
	for _, x := range st.txs {
		if f.ParticipantID != 0 && x.ParticipantID != f.ParticipantID {
			continue
		}
		if f.ActorEmail != "" && x.Actor.Email != f.ActorEmail {
			continue
		}
		if !f.Range.contains(x.CreatedAt) {
			continue
		}
		if p, ok := st.byID(x.ParticipantID); ok {
			x.SevakID, x.SevakName = p.SevakID, p.Name
		}
		out = append(out, x)
	}
	slices.SortFunc(out, newestTxFirst)
	return out, nil
}

func (m *MemStore) Attendance(ctx context.Context, participantID int64) ([]AttendanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []AttendanceRecord{}
	for _, a := range m.read().atts {
		if a.ParticipantID == participantID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b AttendanceRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

func (m *MemStore) Leaderboard(ctx context.Context, g Gender) ([]LeaderboardRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := m.read()
	rows := []LeaderboardRow{}
	for _, p := range st.participants {
		if !p.IsActive || (g != "" && p.Gender != g) {
			continue
		}
		var txs []Transaction
		for _, x := range st.txs {
			if x.ParticipantID == p.ID {
				txs = append(txs, x)
			}
		}
		var atts []AttendanceRecord
		for _, a := range st.atts {
			if a.ParticipantID == p.ID {
				atts = append(atts, a)
			}
		}
		rows = append(rows, LeaderboardRow{Participant: p, Summary: summarize(txs, atts)})
	}
	slices.SortFunc(rows, func(a, b LeaderboardRow) int {
		if c := cmp.Compare(b.Points, a.Points); c != 0 {
			return c
		}
		return cmp.Compare(a.SevakID, b.SevakID)
	})
	return rows, nil
}

func (m *MemStore) StaffActivity(ctx context.Context, f ActivityFilter) ([]StaffActivity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	byEmail := map[string]*StaffActivity{}
	seen := map[string]map[int64]struct{}{}
	txs := slices.Clone(m.read().txs)
	slices.SortFunc(txs, func(a, b Transaction) int { return -newestTxFirst(a, b) })
	for _, x := range txs {
		if !f.contains(x.CreatedAt) {
			continue
		}
		sa, ok := byEmail[x.Actor.Email]
		if !ok {
			sa = &StaffActivity{Email: x.Actor.Email, FirstActivity: x.CreatedAt}
			byEmail[x.Actor.Email] = sa
			seen[x.Actor.Email] = map[int64]struct{}{}
		}
		sa.Name, sa.Role = x.Actor.Name, x.Actor.Role
		sa.LastActivity = x.CreatedAt
		sa.TotalTransactions++
		seen[x.Actor.Email][x.ParticipantID] = struct{}{}
		switch x.Kind {
		case KindAdd:
			sa.TotalAdded += x.PointsChange
		case KindDeduct:
			sa.TotalDeducted -= x.PointsChange
		case KindAttendance:
			sa.AttendancePoints += x.PointsChange
		}
	}
	out := make([]StaffActivity, 0, len(byEmail))
	for email, sa := range byEmail {
		sa.UniqueParticipants = len(seen[email])
		out = append(out, *sa)
	}
	slices.SortFunc(out, func(a, b StaffActivity) int {
		if c := b.LastActivity.Compare(a.LastActivity); c != 0 {
			return c
		}
		return cmp.Compare(a.Email, b.Email)
	})
	return out, nil
}

func (m *MemStore) Feedback(ctx context.Context, participantID int64) ([]Feedback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []Feedback{}
	for _, f := range m.read().feedback {
		if f.ParticipantID == participantID {
			out = append(out, f)
		}
	}
	slices.SortFunc(out, func(a, b Feedback) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

func (m *MemStore) FeedbackGroups(ctx context.Context, g Gender) ([]FeedbackGroup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := m.read()
	groups := map[int64]*FeedbackGroup{}
	for _, f := range st.feedback {
		p, ok := st.byID(f.ParticipantID)
		if !ok || !p.IsActive || (g != "" && p.Gender != g) {
			continue
		}
		fg, ok := groups[p.ID]
		if !ok {
			fg = &FeedbackGroup{SevakID: p.SevakID, Name: p.Name, Gender: p.Gender}
			groups[p.ID] = fg
		}
		fg.FeedbackCount++
		if f.CreatedAt.After(fg.LatestFeedback) {
			fg.LatestFeedback = f.CreatedAt
		}
	}
	out := make([]FeedbackGroup, 0, len(groups))
	for _, fg := range groups {
		out = append(out, *fg)
	}
	slices.SortFunc(out, func(a, b FeedbackGroup) int {
		if c := b.LatestFeedback.Compare(a.LatestFeedback); c != 0 {
			return c
		}
		return cmp.Compare(a.SevakID, b.SevakID)
	})
	return out, nil
}

func (m *MemStore) FeedbackStats(ctx context.Context) (FeedbackStats, error) {
	if err := ctx.Err(); err != nil {
		return FeedbackStats{}, err
	}
	st := m.read()
	sevaks := map[int64]struct{}{}
	reviewers := map[string]struct{}{}
	for _, f := range st.feedback {
		sevaks[f.ParticipantID] = struct{}{}
		reviewers[f.Reviewer.Email] = struct{}{}
	}
	return FeedbackStats{
		TotalFeedback:      len(st.feedback),
		SevaksWithFeedback: len(sevaks),
		Reviewers:          len(reviewers),
	}, nil
}
