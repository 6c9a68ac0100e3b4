package importer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sevakpoints/internal/cloudinary"
	"sevakpoints/internal/ledger"
	"sevakpoints/internal/queue"
	"sevakpoints/internal/store"
)

var (
	admin = ledger.Actor{Email: "admin@example.org", Name: "Admin", Role: "admin"}
	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
	ist   = time.FixedZone("IST", 5*3600+1800)
	now   = ledger.DeviceTime{Wall: time.Date(2024, time.March, 1, 9, 0, 0, 0, ist)}
)

type fakeArchive struct {
	url string
	err error
	got string
}

func (f *fakeArchive) UploadRaw(_ context.Context, _ []byte, filename string) (*cloudinary.UploadResult, error) {
	f.got = filename
	if f.err != nil {
		return nil, f.err
	}
	return &cloudinary.UploadResult{SecureURL: f.url}, nil
}

func TestJobRoundTrip(t *testing.T) {
	job := Job{
		ID:         "job-1",
		Filename:   "roster.csv",
		Actor:      admin,
		DeviceTime: now.Wall,
		Rows:       []ledger.ImportRow{{Line: 2, Name: "Asha", Gender: ledger.Female}},
	}
	msg, err := job.Message()
	require.NoError(t, err)
	assert.Equal(t, MessageType, msg.Type)

	got, err := DecodeJob(msg)
	require.NoError(t, err)
	assert.Equal(t, job.Rows, got.Rows)
	assert.True(t, job.DeviceTime.Equal(got.DeviceTime))

	_, err = DecodeJob(queue.Message{Type: "other", Body: msg.Body})
	assert.Error(t, err)
	_, err = DecodeJob(queue.Message{Type: MessageType, Body: []byte(`{}`)})
	assert.Error(t, err)
}

func TestSubmitThenRun(t *testing.T) {
	ctx := context.Background()
	q := queue.NewInMemory(4)
	reports := NewReports(store.NewMemKV(), time.Hour)
	arch := &fakeArchive{url: "https://files.example.org/roster.csv"}
	sub := NewSubmitter(q, reports, arch, quiet)

	data := []byte("name,gender\nAsha Patel,female\nRavi Kumar,male\n1234,male\n")
	st, err := sub.Submit(ctx, "roster.csv", data, admin, now)
	require.NoError(t, err)
	assert.Equal(t, StatePending, st.State)
	assert.Equal(t, 3, st.Rows)
	assert.Equal(t, arch.url, st.ArchiveURL)
	assert.Equal(t, "roster.csv", arch.got)

	loaded, ok, err := reports.Load(ctx, st.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatePending, loaded.State)

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	msgs, err := q.Consume(cctx)
	require.NoError(t, err)
	msg := <-msgs
	job, err := DecodeJob(msg)
	require.NoError(t, err)
	assert.Equal(t, st.ID, job.ID)

	svc := ledger.NewService(ledger.NewMemStore(), ledger.DefaultPolicy(), ledger.WithLogger(quiet))
	done, err := NewRunner(svc, reports, quiet).Run(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, StateDone, done.State)
	require.NotNil(t, done.Report)
	assert.Equal(t, 3, done.Report.Total)
	require.Len(t, done.Report.Created, 2)
	assert.Equal(t, "SV0001", done.Report.Created[1].SevakID)
	assert.Equal(t, "SV0301", done.Report.Created[0].SevakID)
	require.Len(t, done.Report.Failed, 1)
	assert.Equal(t, 4, done.Report.Failed[0].Line)

	loaded, ok, err = reports.Load(ctx, st.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateDone, loaded.State)
	assert.Len(t, loaded.Report.Created, 2)
}

func TestSubmitArchiveFailureStillQueues(t *testing.T) {
	ctx := context.Background()
	q := queue.NewInMemory(1)
	sub := NewSubmitter(q, NewReports(store.NewMemKV(), time.Hour), &fakeArchive{err: errors.New("down")}, quiet)

	st, err := sub.Submit(ctx, "roster.csv", []byte("Asha,f\n"), admin, now)
	require.NoError(t, err)
	assert.Empty(t, st.ArchiveURL)
	assert.Equal(t, 1, st.Rows)
}

func TestSubmitRejectsBadFiles(t *testing.T) {
	ctx := context.Background()
	sub := NewSubmitter(queue.NewInMemory(1), NewReports(store.NewMemKV(), time.Hour), nil, quiet)

	_, err := sub.Submit(ctx, "roster.csv", []byte("name,gender\n"), admin, now)
	assert.Equal(t, ledger.KindValidation, ledger.KindOf(err))

	_, err = sub.Submit(ctx, "roster.doc", []byte("x"), admin, now)
	assert.Equal(t, ledger.KindValidation, ledger.KindOf(err))
}

func TestLoadUnknownJob(t *testing.T) {
	_, ok, err := NewReports(store.NewMemKV(), time.Hour).Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
