package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamamind47/sfa-queue/internal/announce"
	"github.com/mamamind47/sfa-queue/internal/identity"
	"github.com/mamamind47/sfa-queue/internal/live"
	"github.com/mamamind47/sfa-queue/internal/models"
	"github.com/mamamind47/sfa-queue/internal/store"
	"github.com/mamamind47/sfa-queue/internal/store/memory"
)

var ict = time.FixedZone("ICT", 7*3600)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type notification struct {
	serviceID int64
	deltas    []live.Event
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (r *recordingNotifier) Notify(ctx context.Context, serviceID int64, deltas ...live.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, notification{serviceID: serviceID, deltas: deltas})
}

func (r *recordingNotifier) last(t *testing.T) notification {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.calls, "no notification recorded")
	return r.calls[len(r.calls)-1]
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type recordingAnnouncer struct {
	mu    sync.Mutex
	items []announce.Announcement
}

func (r *recordingAnnouncer) Announce(a announce.Announcement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, a)
}

type stubDirectory struct {
	profile identity.Profile
	err     error
	calls   int
}

func (d *stubDirectory) Lookup(ctx context.Context, studentID string) (identity.Profile, error) {
	d.calls++
	return d.profile, d.err
}

type fixture struct {
	engine    *Engine
	store     store.Store
	notifier  *recordingNotifier
	announcer *recordingAnnouncer
	directory *stubDirectory
	clock     *testClock
	service   models.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memory.NewStore())
}

func newFixtureWithStore(t *testing.T, st store.Store) *fixture {
	t.Helper()
	f := &fixture{
		store:     st,
		notifier:  &recordingNotifier{},
		announcer: &recordingAnnouncer{},
		directory: &stubDirectory{profile: identity.Profile{ID: "6501", DisplayName: "Somchai Jaidee"}},
		clock:     &testClock{now: time.Date(2025, 1, 6, 9, 0, 0, 0, ict)},
	}
	f.engine = NewEngine(st, f.directory, f.notifier, f.announcer, Options{
		Location: ict,
		Now:      f.clock.Now,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	svc, err := f.engine.EnsureService(context.Background(), "A", "Finance")
	require.NoError(t, err)
	f.service = svc
	return f
}

func (f *fixture) enqueue(t *testing.T) EnqueueResult {
	t.Helper()
	res, err := f.engine.Enqueue(context.Background(), EnqueueInput{ServiceCode: f.service.Code, Mode: "guest"})
	require.NoError(t, err)
	return res
}

func (f *fixture) snapshot(t *testing.T) models.Snapshot {
	t.Helper()
	snap, err := f.engine.GetServiceSnapshot(context.Background(), f.service.ID)
	require.NoError(t, err)
	return snap
}

func deltaTypes(n notification) []live.EventType {
	types := make([]live.EventType, 0, len(n.deltas))
	for _, d := range n.deltas {
		types = append(types, d.Type)
	}
	return types
}

func TestEnqueueNumbersTicketsPerDay(t *testing.T) {
	f := newFixture(t)

	first := f.enqueue(t)
	second := f.enqueue(t)
	assert.Equal(t, "A001", first.DisplayNo)
	assert.Equal(t, "A002", second.DisplayNo)
	assert.NotEqual(t, first.Token, second.Token)
	assert.Empty(t, f.notifier.last(t).deltas)

	f.clock.Set(time.Date(2025, 1, 7, 0, 0, 1, 0, ict))
	nextDay := f.enqueue(t)
	assert.Equal(t, "A001", nextDay.DisplayNo)
}

func TestEnqueueNumbersTicketsInLastMillisecondOfDay(t *testing.T) {
	f := newFixture(t)

	// The clock ticks one second per read.
	f.clock.Set(time.Date(2025, 1, 6, 23, 59, 58, 999500000, ict))
	first := f.enqueue(t)
	f.clock.Set(time.Date(2025, 1, 6, 23, 59, 58, 999800000, ict))
	second := f.enqueue(t)

	assert.Equal(t, "A001", first.DisplayNo)
	assert.Equal(t, "A002", second.DisplayNo)

	f.clock.Set(time.Date(2025, 1, 6, 23, 59, 59, 0, ict))
	nextDay := f.enqueue(t)
	assert.Equal(t, "A001", nextDay.DisplayNo)
}

func TestCallServeAndNextFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enqueue(t)
	f.enqueue(t)

	called, err := f.engine.CallNext(ctx, f.service.ID)
	require.NoError(t, err)
	assert.Equal(t, "A001", called.Current.DisplayNo)
	assert.Equal(t, models.StatusCalled, called.Current.Status)
	assert.NotNil(t, called.Current.CalledAt)
	assert.Equal(t, "A002", called.Next.DisplayNo)
	assert.Equal(t, []live.EventType{live.TypeNext}, deltaTypes(f.notifier.last(t)))

	advanced, err := f.engine.ServeAndNext(ctx, f.service.ID)
	require.NoError(t, err)
	assert.Equal(t, "A001", advanced.Served.DisplayNo)
	assert.Equal(t, models.StatusServed, advanced.Served.Status)
	assert.Equal(t, "A002", advanced.Current.DisplayNo)
	assert.Nil(t, advanced.Next)
	assert.Equal(t, []live.EventType{live.TypeServed, live.TypeNext}, deltaTypes(f.notifier.last(t)))

	snap := f.snapshot(t)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "A002", snap.Current.DisplayNo)
	assert.Equal(t, 0, snap.Waiting)

	require.Len(t, f.announcer.items, 2)
	assert.Equal(t, "A002", f.announcer.items[1].DisplayNo)
	assert.Equal(t, announce.KindCall, f.announcer.items[1].Kind)
}

func TestServeAndNextWithEmptyQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enqueue(t)
	_, err := f.engine.CallNext(ctx, f.service.ID)
	require.NoError(t, err)

	advanced, err := f.engine.ServeAndNext(ctx, f.service.ID)
	require.NoError(t, err)
	assert.Nil(t, advanced.Current)
	assert.Equal(t, []live.EventType{live.TypeServed}, deltaTypes(f.notifier.last(t)))
	assert.Nil(t, f.snapshot(t).Current)
}

func TestSkipAndNext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enqueue(t)
	f.enqueue(t)
	f.enqueue(t)
	_, err := f.engine.CallNext(ctx, f.service.ID)
	require.NoError(t, err)

	advanced, err := f.engine.SkipAndNext(ctx, f.service.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, advanced.Skipped.Status)
	assert.NotNil(t, advanced.Skipped.SkippedAt)
	assert.Equal(t, "A002", advanced.Current.DisplayNo)
	assert.Equal(t, "A003", advanced.Next.DisplayNo)
	assert.Equal(t, []live.EventType{live.TypeSkip, live.TypeNext}, deltaTypes(f.notifier.last(t)))
}

func TestServeAndSkipClearCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enqueue(t)
	f.enqueue(t)

	_, err := f.engine.CallNext(ctx, f.service.ID)
	require.NoError(t, err)
	served, err := f.engine.Serve(ctx, f.service.ID)
	require.NoError(t, err)
	assert.Equal(t, "A001", served.Served.DisplayNo)
	assert.Equal(t, "A002", served.Next.DisplayNo)
	assert.Nil(t, f.snapshot(t).Current)

	_, err = f.engine.CallNext(ctx, f.service.ID)
	require.NoError(t, err)
	skipped, err := f.engine.Skip(ctx, f.service.ID)
	require.NoError(t, err)
	assert.Equal(t, "A002", skipped.Skipped.DisplayNo)
	assert.Nil(t, skipped.Next)
	assert.Equal(t, []live.EventType{live.TypeSkip}, deltaTypes(f.notifier.last(t)))
}

func TestCallNextConflictsWhileTicketCalled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enqueue(t)
	f.enqueue(t)
	_, err := f.engine.CallNext(ctx, f.service.ID)
	require.NoError(t, err)

	_, err = f.engine.CallNext(ctx, f.service.ID)
	require.True(t, IsKind(err, KindConflict), "got %v", err)
	var qe *Error
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, models.StatusCalled, qe.Status)
	assert.Equal(t, 1, f.snapshot(t).Waiting)
}

func TestOperationsOnEmptyService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	calls := f.notifier.count()

	_, err := f.engine.CallNext(ctx, f.service.ID)
	assert.True(t, IsKind(err, KindNotFound), "call next: %v", err)
	_, err = f.engine.Recall(ctx, f.service.ID)
	assert.True(t, IsKind(err, KindNotFound), "recall: %v", err)
	_, err = f.engine.Serve(ctx, f.service.ID)
	assert.True(t, IsKind(err, KindNotFound), "serve: %v", err)
	_, err = f.engine.SkipAndNext(ctx, f.service.ID)
	assert.True(t, IsKind(err, KindNotFound), "skip and next: %v", err)
	_, err = f.engine.CallNext(ctx, 999)
	assert.True(t, IsKind(err, KindNotFound), "unknown service: %v", err)

	assert.Equal(t, calls, f.notifier.count(), "failed operations must not notify")
}

func TestRecallKeepsTicketCalled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enqueue(t)
	called, err := f.engine.CallNext(ctx, f.service.ID)
	require.NoError(t, err)

	recalled, err := f.engine.Recall(ctx, f.service.ID)
	require.NoError(t, err)
	assert.Equal(t, called.Current.ID, recalled.Current.ID)
	assert.Equal(t, models.StatusCalled, recalled.Current.Status)
	assert.Equal(t, []live.EventType{live.TypeRecall}, deltaTypes(f.notifier.last(t)))
	assert.Equal(t, announce.KindRecall, f.announcer.items[len(f.announcer.items)-1].Kind)
}

func TestCancelWaitingTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.enqueue(t)
	f.enqueue(t)

	res, err := f.engine.Cancel(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, res.Canceled.Status)
	assert.Empty(t, f.notifier.last(t).deltas)

	snap := f.snapshot(t)
	assert.Equal(t, 1, snap.Waiting)
	assert.Equal(t, "A002", snap.Next.DisplayNo)

	_, err = f.engine.Cancel(ctx, ticket.ID)
	var qe *Error
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, KindConflict, qe.Kind)
	assert.Equal(t, models.StatusCanceled, qe.Status)
}

func TestCancelCalledTicketClearsCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enqueue(t)
	called, err := f.engine.CallNext(ctx, f.service.ID)
	require.NoError(t, err)

	res, err := f.engine.Cancel(ctx, called.Current.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, res.Canceled.Status)
	last := f.notifier.last(t)
	assert.Equal(t, []live.EventType{live.TypeSkip}, deltaTypes(last))
	assert.Equal(t, called.Current.ID, last.deltas[0].Current.ID)
	assert.Nil(t, f.snapshot(t).Current)
}

func TestCancelUnknownTicket(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Cancel(context.Background(), 42)
	assert.True(t, IsKind(err, KindNotFound), "got %v", err)
}

func TestTerminalTicketsAreImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enqueue(t)
	called, err := f.engine.CallNext(ctx, f.service.ID)
	require.NoError(t, err)
	_, err = f.engine.Serve(ctx, f.service.ID)
	require.NoError(t, err)

	_, err = f.engine.Cancel(ctx, called.Current.ID)
	var qe *Error
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, KindConflict, qe.Kind)
	assert.Equal(t, models.StatusServed, qe.Status)
}

func TestCancelByToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.enqueue(t)
	f.enqueue(t)

	canceled, err := f.engine.CancelByToken(ctx, "no-such-token")
	require.NoError(t, err)
	assert.Nil(t, canceled)

	calls := f.notifier.count()
	canceled, err = f.engine.CancelByToken(ctx, ticket.Token)
	require.NoError(t, err)
	require.NotNil(t, canceled)
	assert.Equal(t, models.StatusCanceled, canceled.Status)
	assert.Equal(t, calls+1, f.notifier.count())

	canceled, err = f.engine.CancelByToken(ctx, ticket.Token)
	require.NoError(t, err)
	assert.Nil(t, canceled)
	assert.Equal(t, calls+1, f.notifier.count(), "repeated cancel must not notify")

	_, err = f.engine.CancelByToken(ctx, "  ")
	assert.True(t, IsKind(err, KindValidation))
}

func TestCancelByTokenRejectsFinishedTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.enqueue(t)
	_, err := f.engine.CallNext(ctx, f.service.ID)
	require.NoError(t, err)
	_, err = f.engine.Skip(ctx, f.service.ID)
	require.NoError(t, err)

	_, err = f.engine.CancelByToken(ctx, ticket.Token)
	var qe *Error
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, models.StatusSkipped, qe.Status)
}

func TestEnqueueRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input EnqueueInput
		kind  Kind
	}{
		{"missing service code", EnqueueInput{Mode: "guest"}, KindValidation},
		{"unknown mode", EnqueueInput{ServiceCode: "A", Mode: "vip"}, KindValidation},
		{"student without id", EnqueueInput{ServiceCode: "A", Mode: "student"}, KindValidation},
		{"unknown service", EnqueueInput{ServiceCode: "Z", Mode: "guest"}, KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Enqueue(ctx, tc.input)
			assert.True(t, IsKind(err, tc.kind), "got %v", err)
		})
	}

	_, err := f.engine.SetServiceOpen(ctx, f.service.ID, false)
	require.NoError(t, err)
	_, err = f.engine.Enqueue(ctx, EnqueueInput{ServiceCode: "A", Mode: "guest"})
	assert.True(t, IsKind(err, KindForbidden), "got %v", err)
	assert.Equal(t, 0, f.snapshot(t).Waiting)
}

func TestEnqueueStudentUsesDirectoryProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Enqueue(ctx, EnqueueInput{ServiceCode: "A", Mode: "Student", StudentID: " 6501 "})
	require.NoError(t, err)
	status, err := f.engine.GetTicketByToken(ctx, res.Token)
	require.NoError(t, err)
	require.NotNil(t, status.Ticket.Name)
	assert.Equal(t, "Somchai Jaidee", *status.Ticket.Name)
}

func TestEnqueueStudentLookupFailureLeavesQueueUntouched(t *testing.T) {
	f := newFixture(t)
	f.directory.err = errors.New("Student not found")
	calls := f.notifier.count()

	_, err := f.engine.Enqueue(context.Background(), EnqueueInput{ServiceCode: "A", Mode: "student", StudentID: "404"})
	var qe *Error
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, KindUpstream, qe.Kind)
	assert.Equal(t, "Student not found", qe.Message)
	assert.Equal(t, 0, f.snapshot(t).Waiting)
	assert.Equal(t, calls, f.notifier.count())

	f.directory.err = nil
	res := f.enqueue(t)
	assert.Equal(t, "A001", res.DisplayNo, "failed lookup must not consume a number")
}

func TestGetTicketByTokenCountsAhead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enqueue(t)
	f.enqueue(t)
	third := f.enqueue(t)
	_, err := f.engine.CallNext(ctx, f.service.ID)
	require.NoError(t, err)

	status, err := f.engine.GetTicketByToken(ctx, third.Token)
	require.NoError(t, err)
	assert.Equal(t, "A003", status.Ticket.DisplayNo)
	assert.Equal(t, 2, status.WaitingAhead)
	require.NotNil(t, status.CurrentTicketID)

	_, err = f.engine.GetTicketByToken(ctx, "missing")
	assert.True(t, IsKind(err, KindNotFound))
}

func TestListServicesWithWaitingCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.EnsureService(ctx, "B", "Registrar")
	require.NoError(t, err)
	f.enqueue(t)
	f.enqueue(t)

	services, err := f.engine.ListServicesWithWaitingCounts(ctx)
	require.NoError(t, err)
	require.Len(t, services, 2)
	assert.Equal(t, "A", services[0].Code)
	assert.Equal(t, 2, services[0].Waiting)
	assert.Equal(t, 0, services[1].Waiting)
}

func TestTicketEventsFormVerifiedChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.enqueue(t)
	_, err := f.engine.CallNext(ctx, f.service.ID)
	require.NoError(t, err)
	_, err = f.engine.Recall(ctx, f.service.ID)
	require.NoError(t, err)
	_, err = f.engine.Serve(ctx, f.service.ID)
	require.NoError(t, err)

	audit, err := f.engine.TicketEvents(ctx, ticket.ID)
	require.NoError(t, err)
	assert.True(t, audit.Verified)
	types := make([]string, 0, len(audit.Events))
	for _, ev := range audit.Events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		store.EventTicketCreated,
		store.EventTicketCalled,
		store.EventTicketRecalled,
		store.EventTicketServed,
	}, types)
}

func TestConcurrentCallNextCallsOneTicket(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.enqueue(t)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []int64
		conflicts int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.CallNext(context.Background(), f.service.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes = append(successes, res.Current.ID)
				return
			}
			if IsKind(err, KindConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, successes, 1)
	assert.Equal(t, 9, conflicts)
	assert.Equal(t, 4, f.snapshot(t).Waiting)
}

func TestConcurrentServeAndNextNeverRepeatsTicket(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 6; i++ {
		f.enqueue(t)
	}
	_, err := f.engine.CallNext(context.Background(), f.service.ID)
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		served []int64
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.ServeAndNext(context.Background(), f.service.ID)
			if err != nil {
				return
			}
			mu.Lock()
			served = append(served, res.Served.ID)
			mu.Unlock()
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, id := range served {
		assert.False(t, seen[id], "ticket %d served twice", id)
		seen[id] = true
	}
	assert.Len(t, served, 6)
}

func TestConcurrentEnqueueIssuesDistinctNumbers(t *testing.T) {
	f := newFixture(t)
	const n = 20

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		names []string
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.Enqueue(context.Background(), EnqueueInput{ServiceCode: "A", Mode: "guest"})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			names = append(names, res.DisplayNo)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Strings(names)
	want := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		want = append(want, models.DisplayNo("A", i))
	}
	assert.Equal(t, want, names)
}

// faultyStore fails the nth ticket status update inside any transaction.
type faultyStore struct {
	store.Store
	mu     sync.Mutex
	failAt int
	seen   int
}

func (s *faultyStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.InTx(ctx, func(tx store.Tx) error {
		return fn(&faultyTx{Tx: tx, parent: s})
	})
}

type faultyTx struct {
	store.Tx
	parent *faultyStore
}

func (tx *faultyTx) UpdateTicketStatus(ctx context.Context, ticketID int64, from, to string, at time.Time) (models.Ticket, error) {
	tx.parent.mu.Lock()
	tx.parent.seen++
	fail := tx.parent.seen == tx.parent.failAt
	tx.parent.mu.Unlock()
	if fail {
		return models.Ticket{}, errors.New("connection reset")
	}
	return tx.Tx.UpdateTicketStatus(ctx, ticketID, from, to, at)
}

func TestServeAndNextIsAtomic(t *testing.T) {
	faulty := &faultyStore{Store: memory.NewStore()}
	f := newFixtureWithStore(t, faulty)
	ctx := context.Background()
	f.enqueue(t)
	f.enqueue(t)
	called, err := f.engine.CallNext(ctx, f.service.ID)
	require.NoError(t, err)

	// call next used update #1; serve is #2, the call of A002 is #3
	faulty.failAt = 3
	calls := f.notifier.count()
	_, err = f.engine.ServeAndNext(ctx, f.service.ID)
	require.True(t, IsKind(err, KindTransient), "got %v", err)
	assert.Equal(t, calls, f.notifier.count())

	snap := f.snapshot(t)
	require.NotNil(t, snap.Current)
	assert.Equal(t, called.Current.ID, snap.Current.ID)
	assert.Equal(t, models.StatusCalled, snap.Current.Status)
	assert.Equal(t, 1, snap.Waiting)
}

func TestSummarize(t *testing.T) {
	base := time.Date(2025, 1, 6, 9, 0, 0, 0, ict)
	at := func(d time.Duration) *time.Time {
		v := base.Add(d)
		return &v
	}
	tickets := []models.Ticket{
		{Status: models.StatusServed, CreatedAt: base, CalledAt: at(60 * time.Second), ServedAt: at(180 * time.Second)},
		{Status: models.StatusSkipped, CreatedAt: base, CalledAt: at(121 * time.Second), SkippedAt: at(130 * time.Second)},
		{Status: models.StatusWaiting, CreatedAt: base},
		{Status: models.StatusCanceled, CreatedAt: base, CanceledAt: at(time.Second)},
	}

	stats := Summarize(1, tickets, base, base.Add(time.Hour))
	assert.Equal(t, StatusCounts{Total: 4, Waiting: 1, Served: 1, Skipped: 1, Canceled: 1}, stats.Counts)
	assert.Equal(t, int64(90500), stats.Averages.WaitMs)
	assert.Equal(t, 90.5, stats.Averages.WaitS)
	assert.Equal(t, int64(120000), stats.Averages.ServiceMs)
	assert.Equal(t, 120.0, stats.Averages.ServiceS)

	empty := Summarize(1, nil, base, base)
	assert.Equal(t, Averages{}, empty.Averages)
}

func TestGetServiceStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enqueue(t)
	f.enqueue(t)
	_, err := f.engine.CallNext(ctx, f.service.ID)
	require.NoError(t, err)

	stats, err := f.engine.GetServiceStats(ctx, f.service.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Counts.Total)
	assert.Equal(t, 1, stats.Counts.Called)
	assert.Equal(t, time.Date(2025, 1, 6, 0, 0, 0, 0, ict), stats.Range.From)

	from := time.Date(2025, 1, 7, 0, 0, 0, 0, ict)
	to := time.Date(2025, 1, 6, 0, 0, 0, 0, ict)
	_, err = f.engine.GetServiceStats(ctx, f.service.ID, &from, &to)
	assert.True(t, IsKind(err, KindValidation))

	_, err = f.engine.GetServiceStats(ctx, 999, nil, nil)
	assert.True(t, IsKind(err, KindNotFound))
}
