package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ist       = time.FixedZone("IST", 5*3600+30*60)
	admin     = Actor{Email: "admin@example.org", Name: "Admin", Role: "admin"}
	inspector = Actor{Email: "inspector@example.org", Name: "Ravi", Role: "inspector"}
)

func at(day, hour, minute, sec int) DeviceTime {
	return DeviceTime{Wall: time.Date(2024, time.March, day, hour, minute, sec, 0, ist)}
}

func newTestService(t *testing.T, tweak ...func(*Policy)) (*Service, *MemStore) {
	t.Helper()
	p := DefaultPolicy()
	for _, f := range tweak {
		f(&p)
	}
	require.NoError(t, p.Validate())
	st := NewMemStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(st, p, WithLogger(log)), st
}

func mustCreate(t *testing.T, svc *Service, name string, g Gender) Participant {
	t.Helper()
	p, err := svc.CreateParticipant(context.Background(), NewParticipant{
		Name: name, Gender: g, Actor: admin, DeviceTime: at(1, 7, 0, 0),
	})
	require.NoError(t, err)
	return p
}

func balance(t *testing.T, st *MemStore, sevakID string) int {
	t.Helper()
	p, err := st.Participant(context.Background(), sevakID)
	require.NoError(t, err)
	return p.Points
}

func TestCreateParticipantGrantsInitialPoints(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	p := mustCreate(t, svc, "  Asha   Devi ", Female)
	assert.Equal(t, "SV0301", p.SevakID)
	assert.Equal(t, "Asha Devi", p.Name)
	assert.Equal(t, 100, p.Points)
	assert.True(t, p.IsActive)

	txs, err := st.Transactions(ctx, TransactionFilter{ParticipantID: p.ID})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, KindInitial, txs[0].Kind)
	assert.Equal(t, 0, txs[0].PointsBefore)
	assert.Equal(t, 100, txs[0].PointsAfter)
	assert.Equal(t, admin, txs[0].Actor)
}

func TestCreateParticipantValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   NewParticipant
	}{
		{"empty name", NewParticipant{Name: "  ", Gender: Male}},
		{"short name", NewParticipant{Name: "A", Gender: Male}},
		{"digits", NewParticipant{Name: "Ravi 2", Gender: Male}},
		{"bad gender", NewParticipant{Name: "Ravi", Gender: "other"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.in.Actor = admin
			tc.in.DeviceTime = at(1, 7, 0, 0)
			_, err := svc.CreateParticipant(ctx, tc.in)
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}

	_, err := svc.CreateParticipant(ctx, NewParticipant{Name: "Ravi", Gender: Male, DeviceTime: at(1, 7, 0, 0)})
	assert.Equal(t, KindValidation, KindOf(err), "actor is required")

	p, err := svc.CreateParticipant(ctx, NewParticipant{Name: "राम कुमार", Gender: Male, Actor: admin, DeviceTime: at(1, 7, 0, 0)})
	require.NoError(t, err)
	assert.Equal(t, "SV0001", p.SevakID)
}

func TestIDsAreAllocatedPerPartition(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.Equal(t, "SV0001", mustCreate(t, svc, "Ravi", Male).SevakID)
	assert.Equal(t, "SV0301", mustCreate(t, svc, "Asha", Female).SevakID)
	second := mustCreate(t, svc, "Mohan", Male)
	assert.Equal(t, "SV0002", second.SevakID)

	// Deactivated IDs are never handed out again.
	require.NoError(t, svc.DeactivateParticipant(ctx, second.SevakID, at(1, 8, 0, 0)))
	assert.Equal(t, "SV0003", mustCreate(t, svc, "Kiran", Male).SevakID)
	assert.Equal(t, "SV0302", mustCreate(t, svc, "Meera", Female).SevakID)
}

func TestPartitionBoundary(t *testing.T) {
	svc, _ := newTestService(t, func(p *Policy) {
		p.IDs.Partitions = map[Gender]Partition{
			Male:   {First: 1, Last: 3},
			Female: {First: 4},
		}
	})
	ctx := context.Background()

	for _, n := range []string{"Aman", "Bala", "Chetan"} {
		mustCreate(t, svc, n, Male)
	}
	_, err := svc.CreateParticipant(ctx, NewParticipant{Name: "Dev", Gender: Male, Actor: admin, DeviceTime: at(1, 7, 0, 0)})
	require.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, KindCapacity, KindOf(err))

	f := mustCreate(t, svc, "Asha", Female)
	assert.Equal(t, "SV0004", f.SevakID)
}

func TestPartitionBoundaryAtDefaultCap(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 300; i++ {
		mustCreate(t, svc, "Sevak", Male)
	}
	_, err := svc.CreateParticipant(ctx, NewParticipant{Name: "Sevak", Gender: Male, Actor: admin, DeviceTime: at(1, 7, 0, 0)})
	require.ErrorIs(t, err, ErrCapacityExceeded)

	assert.Equal(t, "SV0301", mustCreate(t, svc, "Asha", Female).SevakID)
}

func TestConcurrentCreationYieldsSequentialIDs(t *testing.T) {
	svc, _ := newTestService(t)
	const n = 40

	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := svc.CreateParticipant(context.Background(), NewParticipant{
				Name: "Sevak", Gender: Male, Actor: admin, DeviceTime: at(1, 7, 0, 0),
			})
			ids[i], errs[i] = p.SevakID, err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	slices.Sort(ids)
	for i, id := range ids {
		assert.Equal(t, fmt.Sprintf("SV%04d", i+1), id)
	}
}

func TestConcurrentAddsAreNotLost(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p := mustCreate(t, svc, "Ravi", Male)
	const n = 25

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.AddPoints(ctx, PointsRequest{SevakID: p.SevakID, Amount: 10, Actor: inspector, DeviceTime: at(2, 9, 0, 0)})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 100+10*n, balance(t, st, p.SevakID))

	txs, err := st.Transactions(ctx, TransactionFilter{ParticipantID: p.ID})
	require.NoError(t, err)
	slices.Reverse(txs)
	adds := 0
	sum := 0
	for _, tx := range txs {
		if tx.Kind == KindAdd {
			adds++
		}
		assert.Equal(t, sum, tx.PointsBefore)
		assert.Equal(t, tx.PointsBefore+tx.PointsChange, tx.PointsAfter)
		sum = tx.PointsAfter
	}
	assert.Equal(t, n, adds)
	assert.Equal(t, 100+10*n, sum)
}

func TestConcurrentScansAwardOnce(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p := mustCreate(t, svc, "Ravi", Male)
	const n = 20

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.MarkAttendance(ctx, AttendanceRequest{SevakID: p.SevakID, Actor: inspector, DeviceTime: at(2, 8, 10, i)})
		}(i)
	}
	wg.Wait()

	ok, marked := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyMarked):
			marked++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, marked)
	assert.Equal(t, 150, balance(t, st, p.SevakID))

	atts, err := st.Attendance(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, atts, 1)
}

func TestAddAndDeductPoints(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p := mustCreate(t, svc, "Ravi", Male)

	res, err := svc.AddPoints(ctx, PointsRequest{SevakID: "sv0001 ", Amount: 10, Actor: inspector, DeviceTime: at(1, 9, 0, 0)})
	require.NoError(t, err)
	assert.Equal(t, BalanceChange{SevakID: p.SevakID, Name: "Ravi", PreviousPoints: 100, NewPoints: 110}, res)

	res, err = svc.DeductPoints(ctx, PointsRequest{SevakID: p.SevakID, Amount: 10, Actor: inspector, DeviceTime: at(1, 9, 5, 0)})
	require.NoError(t, err)
	assert.Equal(t, 110, res.PreviousPoints)
	assert.Equal(t, 100, res.NewPoints)

	txs, err := st.Transactions(ctx, TransactionFilter{ParticipantID: p.ID})
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, KindDeduct, txs[0].Kind)
	assert.Equal(t, -10, txs[0].PointsChange)
	assert.Equal(t, "Deducted 10 points", txs[0].Description)
	assert.Equal(t, KindAdd, txs[1].Kind)
}

func TestPointsValidationAndNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := mustCreate(t, svc, "Ravi", Male)

	_, err := svc.AddPoints(ctx, PointsRequest{SevakID: p.SevakID, Amount: 0, Actor: inspector, DeviceTime: at(1, 9, 0, 0)})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = svc.AddPoints(ctx, PointsRequest{SevakID: p.SevakID, Amount: -5, Actor: inspector, DeviceTime: at(1, 9, 0, 0)})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = svc.AddPoints(ctx, PointsRequest{SevakID: p.SevakID, Amount: 10, Actor: inspector})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = svc.AddPoints(ctx, PointsRequest{SevakID: "SV9999", Amount: 10, Actor: inspector, DeviceTime: at(1, 9, 0, 0)})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.DeactivateParticipant(ctx, p.SevakID, at(1, 9, 0, 0)))
	_, err = svc.AddPoints(ctx, PointsRequest{SevakID: p.SevakID, Amount: 10, Actor: inspector, DeviceTime: at(1, 9, 0, 0)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStrictDeductFloor(t *testing.T) {
	svc, st := newTestService(t, func(p *Policy) { p.InitialPoints = 20 })
	ctx := context.Background()
	p := mustCreate(t, svc, "Ravi", Male)

	for _, amount := range []int{21, 50, 1000} {
		_, err := svc.DeductPoints(ctx, PointsRequest{SevakID: p.SevakID, Amount: amount, Actor: inspector, DeviceTime: at(1, 9, 0, 0)})
		require.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, KindConflict, KindOf(err))
		assert.Equal(t, 20, balance(t, st, p.SevakID))
	}

	res, err := svc.DeductPoints(ctx, PointsRequest{SevakID: p.SevakID, Amount: 20, Actor: inspector, DeviceTime: at(1, 9, 0, 0)})
	require.NoError(t, err)
	assert.Equal(t, 0, res.NewPoints)

	_, err = svc.DeductPoints(ctx, PointsRequest{SevakID: p.SevakID, Amount: 10, Actor: inspector, DeviceTime: at(1, 9, 1, 0)})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	txs, _ := st.Transactions(ctx, TransactionFilter{ParticipantID: p.ID})
	assert.Len(t, txs, 2)
}

func TestDailyAddCeiling(t *testing.T) {
	svc, st := newTestService(t, func(p *Policy) { p.DailyAddCeiling = 20 })
	ctx := context.Background()
	p := mustCreate(t, svc, "Ravi", Male)

	add := func(dt DeviceTime) error {
		_, err := svc.AddPoints(ctx, PointsRequest{SevakID: p.SevakID, Amount: 10, Actor: inspector, DeviceTime: dt})
		return err
	}
	require.NoError(t, add(at(2, 9, 0, 0)))
	require.NoError(t, add(at(2, 12, 0, 0)))
	require.ErrorIs(t, add(at(2, 23, 59, 0)), ErrDailyCeiling)
	assert.Equal(t, 120, balance(t, st, p.SevakID))

	// Attendance awards are not counted.
	_, err := svc.MarkAttendance(ctx, AttendanceRequest{SevakID: p.SevakID, Actor: inspector, DeviceTime: at(3, 8, 0, 0)})
	require.NoError(t, err)
	require.NoError(t, add(at(3, 9, 0, 0)))
	require.NoError(t, add(at(3, 9, 5, 0)))
}

func TestAttendanceTierBoundary(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		dt     DeviceTime
		onTime bool
		award  int
	}{
		{"exactly at cutoff", at(1, 8, 30, 0), true, 50},
		{"one second before", at(1, 8, 29, 59), true, 50},
		{"end of cutoff minute", at(1, 8, 30, 59), true, 50},
		{"one minute after", at(1, 8, 31, 0), false, 25},
		{"early morning", at(1, 6, 0, 0), true, 50},
		{"afternoon", at(1, 14, 0, 0), false, 25},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := mustCreate(t, svc, "Sevak", Male)
			res, err := svc.MarkAttendance(ctx, AttendanceRequest{SevakID: p.SevakID, Actor: inspector, DeviceTime: tc.dt})
			require.NoError(t, err)
			assert.Equal(t, tc.onTime, res.IsOnTime)
			assert.Equal(t, tc.award, res.PointsAwarded)
			assert.Equal(t, 100+tc.award, res.NewPoints)
			assert.Equal(t, tc.dt.Clock(), res.CheckInTime)
		})
	}
}

func TestAttendanceIsIdempotentPerDate(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p := mustCreate(t, svc, "Ravi", Male)

	res, err := svc.MarkAttendance(ctx, AttendanceRequest{SevakID: p.SevakID, Actor: inspector, DeviceTime: at(4, 8, 0, 0)})
	require.NoError(t, err)
	assert.Equal(t, 150, res.NewPoints)

	_, err = svc.MarkAttendance(ctx, AttendanceRequest{SevakID: p.SevakID, Actor: admin, DeviceTime: at(4, 18, 0, 0)})
	require.ErrorIs(t, err, ErrAlreadyMarked)
	assert.Equal(t, 150, balance(t, st, p.SevakID))

	res, err = svc.MarkAttendance(ctx, AttendanceRequest{SevakID: p.SevakID, Actor: inspector, DeviceTime: at(5, 9, 0, 0)})
	require.NoError(t, err)
	assert.False(t, res.IsOnTime)
	assert.Equal(t, 175, res.NewPoints)

	atts, err := st.Attendance(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, atts, 2)
	assert.Equal(t, "2024-03-05", atts[0].Date)
}

func TestFailedWriteRollsBackEverything(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	p := mustCreate(t, svc, "Ravi", Male)

	st.fail = func(op string) error {
		if op == "insert_transaction" {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := svc.AddPoints(ctx, PointsRequest{SevakID: p.SevakID, Amount: 10, Actor: inspector, DeviceTime: at(1, 9, 0, 0)})
	require.Error(t, err)
	assert.Equal(t, KindStorage, KindOf(err))
	assert.NotContains(t, PublicMessage(err), "disk full")

	_, err = svc.MarkAttendance(ctx, AttendanceRequest{SevakID: p.SevakID, Actor: inspector, DeviceTime: at(1, 8, 0, 0)})
	require.Error(t, err)

	_, err = svc.CreateParticipant(ctx, NewParticipant{Name: "Mohan", Gender: Male, Actor: admin, DeviceTime: at(1, 7, 0, 0)})
	require.Error(t, err)

	st.fail = nil
	assert.Equal(t, 100, balance(t, st, p.SevakID))
	atts, _ := st.Attendance(ctx, p.ID)
	assert.Empty(t, atts)
	txs, _ := st.Transactions(ctx, TransactionFilter{ParticipantID: p.ID})
	assert.Len(t, txs, 1)
	all, _ := st.Participants(ctx, ParticipantFilter{})
	assert.Len(t, all, 1)

	// The failed attendance left nothing behind, so the day can still be marked.
	_, err = svc.MarkAttendance(ctx, AttendanceRequest{SevakID: p.SevakID, Actor: inspector, DeviceTime: at(1, 8, 0, 0)})
	require.NoError(t, err)
	assert.Equal(t, "SV0002", mustCreate(t, svc, "Mohan", Male).SevakID)
}

func TestBalanceMatchesLedger(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	ps := []Participant{
		mustCreate(t, svc, "Ravi", Male),
		mustCreate(t, svc, "Asha", Female),
		mustCreate(t, svc, "Mohan", Male),
	}
	for day := 1; day <= 6; day++ {
		for i, p := range ps {
			if (day+i)%2 == 0 {
				_, err := svc.MarkAttendance(ctx, AttendanceRequest{SevakID: p.SevakID, Actor: inspector, DeviceTime: at(day, 8, 10*i, 0)})
				require.NoError(t, err)
			}
			req := PointsRequest{SevakID: p.SevakID, Amount: 10 * (i + 1), Actor: inspector, DeviceTime: at(day, 10, i, 0)}
			if (day+i)%3 == 0 {
				_, _ = svc.DeductPoints(ctx, req)
			} else {
				_, err := svc.AddPoints(ctx, req)
				require.NoError(t, err)
			}
		}
	}

	for _, p := range ps {
		txs, err := st.Transactions(ctx, TransactionFilter{ParticipantID: p.ID})
		require.NoError(t, err)
		sum := 0
		for i := len(txs) - 1; i >= 0; i-- {
			assert.Equal(t, txs[i].PointsBefore+txs[i].PointsChange, txs[i].PointsAfter)
			assert.Equal(t, sum, txs[i].PointsBefore)
			sum += txs[i].PointsChange
		}
		assert.Equal(t, balance(t, st, p.SevakID), sum)
	}

	drift, err := svc.Verify(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestEndToEndScenario(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	asha := mustCreate(t, svc, "Asha", Female)
	assert.Equal(t, 100, asha.Points)

	res, err := svc.AddPoints(ctx, PointsRequest{SevakID: asha.SevakID, Amount: 10, Actor: inspector, DeviceTime: at(1, 7, 30, 0)})
	require.NoError(t, err)
	assert.Equal(t, 100, res.PreviousPoints)
	assert.Equal(t, 110, res.NewPoints)

	att, err := svc.MarkAttendance(ctx, AttendanceRequest{SevakID: asha.SevakID, Actor: inspector, DeviceTime: at(1, 8, 0, 0)})
	require.NoError(t, err)
	assert.True(t, att.IsOnTime)
	assert.Equal(t, 110, att.PreviousPoints)
	assert.Equal(t, 160, att.NewPoints)

	_, err = svc.MarkAttendance(ctx, AttendanceRequest{SevakID: asha.SevakID, Actor: inspector, DeviceTime: at(1, 8, 5, 0)})
	require.ErrorIs(t, err, ErrAlreadyMarked)
	assert.Equal(t, 160, balance(t, st, asha.SevakID))

	res, err = svc.DeductPoints(ctx, PointsRequest{SevakID: asha.SevakID, Amount: 10, Actor: inspector, DeviceTime: at(1, 9, 0, 0)})
	require.NoError(t, err)
	assert.Equal(t, 150, res.NewPoints)

	board, err := svc.Leaderboard(ctx, LeaderboardFilter{Gender: Female})
	require.NoError(t, err)
	require.Len(t, board, 1)
	row := board[0]
	assert.Equal(t, asha.SevakID, row.SevakID)
	assert.Equal(t, 150, row.Points)
	assert.Equal(t, 60, row.TotalAdded)
	assert.Equal(t, 10, row.TotalDeducted)
	assert.Equal(t, 50, row.AttendancePoints)
	assert.Equal(t, 1, row.TotalAttendanceDays)
	assert.Equal(t, 1, row.OnTimeDays)
	assert.Equal(t, 0, row.LateDays)
	assert.Equal(t, 4, row.TotalTransactions)

	hist, err := svc.History(ctx, asha.SevakID)
	require.NoError(t, err)
	require.Len(t, hist.Transactions, 4)
	kinds := []Kind{}
	for _, tx := range hist.Transactions {
		kinds = append(kinds, tx.Kind)
	}
	assert.Equal(t, []Kind{KindDeduct, KindAttendance, KindAdd, KindInitial}, kinds)
	assert.Equal(t, row.Summary, hist.Summary)
}
