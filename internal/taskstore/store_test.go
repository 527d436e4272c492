package taskstore_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todosync/internal/service"
	"todosync/internal/task"
	"todosync/internal/taskstore"
	"todosync/internal/testutil"
)

const waitTimeout = 2 * time.Second

// recordingObserver counts store events.
type recordingObserver struct {
	mu      sync.Mutex
	issued  map[string]int
	failed  map[string]int
	stale   map[string]int
	skipped int
	expired int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		issued: make(map[string]int),
		failed: make(map[string]int),
		stale:  make(map[string]int),
	}
}

func (o *recordingObserver) RemoteOpIssued(op string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.issued[op]++
}

func (o *recordingObserver) RemoteOpFailed(op string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed[op]++
}

func (o *recordingObserver) StaleConfirmation(op string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stale[op]++
}

func (o *recordingObserver) SnapshotApplied(records, skipped int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped += skipped
}

func (o *recordingObserver) PendingExpired() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.expired++
}

func (o *recordingObserver) count(f func(*recordingObserver) int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return f(o)
}

// startStore starts a store over fc and closes it when the test ends.
func startStore(t *testing.T, fc *testutil.FakeCollection, opts taskstore.Options) *taskstore.Store {
	t.Helper()

	st := taskstore.New(fc, fc, opts)
	require.NoError(t, st.Start(context.Background()))
	t.Cleanup(func() {
		require.NoError(t, st.Close())
	})

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, st.WaitReady(ctx))
	return st
}

func waitAck(t *testing.T, ack *taskstore.Ack) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	select {
	case <-ack.Done():
		return ack.Err()
	case <-ctx.Done():
		t.Fatalf("ack for task %s (%s) did not resolve", ack.TaskID(), ack.Op())
		return nil
	}
}

func ids(tasks []task.Task) []string {
	out := make([]string, len(tasks))
	for i, tk := range tasks {
		out[i] = tk.ID
	}
	return out
}

func titles(tasks []task.Task) []string {
	out := make([]string, len(tasks))
	for i, tk := range tasks {
		out[i] = tk.Title
	}
	return out
}

func countID(tasks []task.Task, id string) int {
	n := 0
	for _, tk := range tasks {
		if tk.ID == id {
			n++
		}
	}
	return n
}

func seeded(id, title string) task.Task {
	return task.Task{
		ID:        id,
		Title:     title,
		CreatedAt: time.Date(2025, 9, 16, 9, 0, 0, 0, time.UTC),
		OwnerID:   testutil.DefaultUser,
	}
}

func TestStart_Unauthenticated(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.SetUser("")

	st := taskstore.New(fc, fc, taskstore.Options{})
	err := st.Start(context.Background())
	assert.ErrorIs(t, err, taskstore.ErrUnauthenticated)
	assert.Empty(t, fc.Calls())
}

func TestStart_ListenError(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.ListenErr = testutil.ErrInjected

	st := taskstore.New(fc, fc, taskstore.Options{})
	err := st.Start(context.Background())
	assert.ErrorIs(t, err, testutil.ErrInjected)

	_, _, err = st.Create(context.Background(), task.Draft{Title: "x"})
	assert.ErrorIs(t, err, taskstore.ErrNotStarted)
}

func TestStart_LoadsInitialSnapshot(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.Seed(testutil.DefaultUser, seeded("b", "Walk dog"), seeded("a", "buy milk"))

	st := startStore(t, fc, taskstore.Options{})

	assert.Equal(t, []string{"buy milk", "Walk dog"}, titles(st.List("")))
	assert.Equal(t, testutil.DefaultUser, st.Owner())
}

func TestCreate_EmptyTitleFailsBeforeRemoteCall(t *testing.T) {
	fc := testutil.NewFakeCollection()
	st := startStore(t, fc, taskstore.Options{})

	for _, title := range []string{"", "   ", "\t\n"} {
		_, ack, err := st.Create(context.Background(), task.Draft{Title: title})
		assert.ErrorIs(t, err, task.ErrEmptyTitle, "title %q", title)
		assert.Nil(t, ack)
	}

	assert.Empty(t, fc.Calls())
	assert.Empty(t, st.List(""))
}

func TestCreate_OptimisticInsert(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.SetHold(true)
	st := startStore(t, fc, taskstore.Options{})

	due := time.Date(2025, 9, 20, 18, 0, 0, 0, time.UTC)
	created, ack, err := st.Create(context.Background(), task.Draft{
		Title:       "Buy milk",
		Description: "2 litres",
		DueDate:     due,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Nil(t, created.UpdatedAt)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, testutil.DefaultUser, created.OwnerID)
	assert.True(t, due.Equal(created.DueDate))

	// Visible before the backend has answered.
	assert.Equal(t, []string{created.ID}, ids(st.List("")))
	state, err := st.State(created.ID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.PendingCreate, state)

	require.True(t, fc.WaitHeld(1, waitTimeout))
	fc.ReleaseAll(nil)
	require.NoError(t, waitAck(t, ack))

	state, err = st.State(created.ID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.Confirmed, state)
	assert.Len(t, fc.Records(testutil.DefaultUser), 1)
}

func TestCreate_ConvergesToOneRecord(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.SetEcho(false)
	st := startStore(t, fc, taskstore.Options{})

	created, ack, err := st.Create(context.Background(), task.Draft{Title: "Buy milk"})
	require.NoError(t, err)
	require.NoError(t, waitAck(t, ack))

	fc.PushStored(testutil.DefaultUser)
	fc.PushStored(testutil.DefaultUser)

	list := st.List("")
	assert.Equal(t, 1, countID(list, created.ID))
	assert.Len(t, list, 1)

	state, err := st.State(created.ID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.Confirmed, state)
}

func TestScenario_OptimisticCreateSurvivesEmptySnapshot(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.SetEcho(false)
	fc.SetHold(true)
	st := startStore(t, fc, taskstore.Options{})

	t0 := time.Date(2025, 9, 19, 8, 0, 0, 0, time.UTC)
	t1, ack, err := st.Create(context.Background(), task.Draft{Title: "Buy milk", DueDate: t0})
	require.NoError(t, err)

	// The remote has not seen the write yet.
	fc.Push(testutil.DefaultUser, nil)
	assert.Equal(t, []string{t1.ID}, ids(st.List("")))
	state, err := st.State(t1.ID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.PendingCreate, state)

	// The echo arrives.
	fc.Push(testutil.DefaultUser, []task.Task{t1})
	list := st.List("")
	assert.Equal(t, 1, countID(list, t1.ID))
	assert.Len(t, list, 1)
	state, err = st.State(t1.ID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.Confirmed, state)

	require.True(t, fc.WaitHeld(1, waitTimeout))
	fc.ReleaseAll(nil)
	require.NoError(t, waitAck(t, ack))
	assert.Equal(t, 1, countID(st.List(""), t1.ID))
}

func TestScenario_StaleConfirmationDoesNotOverwriteNewerUpdate(t *testing.T) {
	fc := testutil.NewFakeCollection()
	obs := newRecordingObserver()
	st := startStore(t, fc, taskstore.Options{Observer: obs})

	t1, ack, err := st.Create(context.Background(), task.Draft{Title: "Buy milk"})
	require.NoError(t, err)
	require.NoError(t, waitAck(t, ack))

	fc.SetEcho(false)
	fc.SetHold(true)

	first, second := "Buy oat milk", "Buy oat milk, 2 litres"
	ack1, err := st.Update(context.Background(), t1.ID, task.Patch{Title: &first})
	require.NoError(t, err)
	ack2, err := st.Update(context.Background(), t1.ID, task.Patch{Title: &second})
	require.NoError(t, err)

	got, err := st.Get(t1.ID)
	require.NoError(t, err)
	assert.Equal(t, second, got.Title)

	// Writes reach the backend one at a time, in call order.
	require.True(t, fc.WaitHeld(1, waitTimeout))
	require.True(t, fc.ReleaseNext(nil))
	require.NoError(t, waitAck(t, ack1))

	// The second write may reach the backend before ack1 resolves.
	require.True(t, fc.WaitHeld(1, waitTimeout))
	calls := fc.Calls()
	require.Len(t, calls, 3)
	v1 := calls[1].Task
	assert.Equal(t, second, calls[2].Task.Title)
	assert.Equal(t, first, v1.Title)

	// A snapshot echoing the first write must not replace the second.
	fc.Push(testutil.DefaultUser, []task.Task{v1})
	got, err = st.Get(t1.ID)
	require.NoError(t, err)
	assert.Equal(t, second, got.Title)
	state, err := st.State(t1.ID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.PendingUpdate, state)

	require.True(t, fc.WaitHeld(1, waitTimeout))
	require.True(t, fc.ReleaseNext(nil))
	require.NoError(t, waitAck(t, ack2))

	assert.Equal(t, 3, fc.CallCount("write"))
	assert.Equal(t, 1, obs.count(func(o *recordingObserver) int { return o.stale[taskstore.OpWrite] }))

	fc.PushStored(testutil.DefaultUser)
	got, err = st.Get(t1.ID)
	require.NoError(t, err)
	assert.Equal(t, second, got.Title)
	state, err = st.State(t1.ID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.Confirmed, state)
}

func TestScenario_DeleteDuringPendingCreate(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.SetEcho(false)
	fc.SetHold(true)
	st := startStore(t, fc, taskstore.Options{})

	t1, createAck, err := st.Create(context.Background(), task.Draft{Title: "Buy milk"})
	require.NoError(t, err)

	delAck, err := st.Delete(context.Background(), t1.ID)
	require.NoError(t, err)
	assert.Empty(t, st.List(""))

	// The create echoes back before the delete reaches the backend.
	fc.Push(testutil.DefaultUser, []task.Task{t1})
	assert.Empty(t, st.List(""))
	state, err := st.State(t1.ID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.PendingDelete, state)

	require.True(t, fc.WaitHeld(1, waitTimeout))
	require.True(t, fc.ReleaseNext(nil))
	require.NoError(t, waitAck(t, createAck))

	require.True(t, fc.WaitHeld(1, waitTimeout))
	require.True(t, fc.ReleaseNext(nil))
	require.NoError(t, waitAck(t, delAck))

	// A listener lagging behind the delete still lists the task.
	fc.Push(testutil.DefaultUser, []task.Task{t1})
	assert.Empty(t, st.List(""))

	// Once the backend stops listing it, the tombstone is gone.
	fc.Push(testutil.DefaultUser, nil)
	assert.Empty(t, st.List(""))
	_, err = st.State(t1.ID)
	assert.ErrorIs(t, err, taskstore.ErrNotFound)

	calls := fc.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "write", calls[0].Op)
	assert.Equal(t, "delete", calls[1].Op)
}

func TestDelete_AbsentOnReturnRegardlessOfOutcome(t *testing.T) {
	for _, remoteErr := range []error{nil, testutil.ErrInjected} {
		t.Run(fmt.Sprintf("remote error %v", remoteErr), func(t *testing.T) {
			fc := testutil.NewFakeCollection()
			fc.Seed(testutil.DefaultUser, seeded("t1", "Buy milk"), seeded("t2", "Walk dog"))
			fc.DeleteErr = remoteErr
			st := startStore(t, fc, taskstore.Options{})

			ack, err := st.Delete(context.Background(), "t1")
			require.NoError(t, err)
			assert.Equal(t, 0, countID(st.List(""), "t1"))

			err = waitAck(t, ack)
			if remoteErr == nil {
				assert.NoError(t, err)
			} else {
				assert.True(t, taskstore.IsRemoteWriteError(err))
				assert.ErrorIs(t, err, testutil.ErrInjected)
			}
			assert.Equal(t, 0, countID(st.List(""), "t1"))
			assert.Equal(t, 1, countID(st.List(""), "t2"))
		})
	}
}

func TestDelete_FailureIsNotRolledBackAndCanBeRetried(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.Seed(testutil.DefaultUser, seeded("t1", "Buy milk"))
	fc.DeleteErr = testutil.ErrInjected
	st := startStore(t, fc, taskstore.Options{})

	ack, err := st.Delete(context.Background(), "t1")
	require.NoError(t, err)
	require.Error(t, waitAck(t, ack))

	state, err := st.State("t1")
	require.NoError(t, err)
	assert.Equal(t, taskstore.WriteFailed, state)

	// The backend still lists it; it stays hidden.
	fc.PushStored(testutil.DefaultUser)
	assert.Empty(t, st.List(""))

	fc.DeleteErr = nil
	retry, err := st.Retry(context.Background(), "t1")
	require.NoError(t, err)
	require.NoError(t, waitAck(t, retry))

	assert.Empty(t, fc.Records(testutil.DefaultUser))
	_, err = st.State("t1")
	assert.ErrorIs(t, err, taskstore.ErrNotFound)
}

func TestCreate_RemoteFailureRetainsRecordForRetry(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.WriteErr = testutil.ErrInjected
	obs := newRecordingObserver()
	st := startStore(t, fc, taskstore.Options{Observer: obs})

	created, ack, err := st.Create(context.Background(), task.Draft{Title: "Buy milk"})
	require.NoError(t, err)

	err = waitAck(t, ack)
	var rwe *taskstore.RemoteWriteError
	require.True(t, errors.As(err, &rwe))
	assert.Equal(t, taskstore.OpWrite, rwe.Op)
	assert.Equal(t, created.ID, rwe.TaskID)
	assert.ErrorIs(t, err, testutil.ErrInjected)

	assert.Equal(t, 1, countID(st.List(""), created.ID))
	state, err := st.State(created.ID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.WriteFailed, state)
	assert.Equal(t, 1, obs.count(func(o *recordingObserver) int { return o.failed[taskstore.OpWrite] }))

	// No automatic retry.
	assert.Equal(t, 1, fc.CallCount("write"))

	fc.WriteErr = nil
	retry, err := st.Retry(context.Background(), created.ID)
	require.NoError(t, err)
	require.NoError(t, waitAck(t, retry))

	state, err = st.State(created.ID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.Confirmed, state)
	assert.Equal(t, 2, fc.CallCount("write"))
}

func TestDiscard_RollsBackFailedCreate(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.WriteErr = testutil.ErrInjected
	st := startStore(t, fc, taskstore.Options{})

	created, ack, err := st.Create(context.Background(), task.Draft{Title: "Buy milk"})
	require.NoError(t, err)
	require.Error(t, waitAck(t, ack))

	require.NoError(t, st.Discard(created.ID))
	assert.Empty(t, st.List(""))
	assert.ErrorIs(t, st.Discard(created.ID), taskstore.ErrNotFound)
}

func TestDiscard_RevertsFailedUpdate(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.Seed(testutil.DefaultUser, seeded("t1", "Buy milk"))
	st := startStore(t, fc, taskstore.Options{})

	fc.WriteErr = testutil.ErrInjected
	title := "Buy bread"
	ack, err := st.Update(context.Background(), "t1", task.Patch{Title: &title})
	require.NoError(t, err)
	require.Error(t, waitAck(t, ack))

	got, err := st.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, "Buy bread", got.Title)

	require.NoError(t, st.Discard("t1"))
	got, err = st.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, "Buy milk", got.Title)

	assert.ErrorIs(t, st.Discard("t1"), taskstore.ErrNothingToRetry)
	_, err = st.Retry(context.Background(), "t1")
	assert.ErrorIs(t, err, taskstore.ErrNothingToRetry)
}

func TestDiscard_FailedDeleteKeepsTaskRemoved(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.Seed(testutil.DefaultUser, seeded("t1", "Buy milk"))
	fc.DeleteErr = testutil.ErrInjected
	st := startStore(t, fc, taskstore.Options{PendingTimeout: time.Millisecond})

	ack, err := st.Delete(context.Background(), "t1")
	require.NoError(t, err)
	require.Error(t, waitAck(t, ack))

	state, err := st.State("t1")
	require.NoError(t, err)
	assert.Equal(t, taskstore.WriteFailed, state)

	require.NoError(t, st.Discard("t1"))
	_, err = st.State("t1")
	assert.ErrorIs(t, err, taskstore.ErrNotFound)
	assert.ErrorIs(t, st.Discard("t1"), taskstore.ErrNotFound)
	_, err = st.Retry(context.Background(), "t1")
	assert.ErrorIs(t, err, taskstore.ErrNotFound)

	// The backend still lists it; the removal is not reversed.
	time.Sleep(5 * time.Millisecond)
	fc.PushStored(testutil.DefaultUser)
	assert.Empty(t, st.List(""))
	assert.Equal(t, 1, fc.CallCount("delete"))

	// Once a snapshot drops it, the identity is released.
	fc.Push(testutil.DefaultUser, nil)
	fc.PushStored(testutil.DefaultUser)
	assert.Equal(t, 1, countID(st.List(""), "t1"))
}

func TestMutations_NotFound(t *testing.T) {
	fc := testutil.NewFakeCollection()
	st := startStore(t, fc, taskstore.Options{})

	title := "x"
	_, err := st.Update(context.Background(), "missing", task.Patch{Title: &title})
	assert.ErrorIs(t, err, taskstore.ErrNotFound)

	_, err = st.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, taskstore.ErrNotFound)

	_, err = st.Retry(context.Background(), "missing")
	assert.ErrorIs(t, err, taskstore.ErrNotFound)

	_, err = st.Get("missing")
	assert.ErrorIs(t, err, taskstore.ErrNotFound)

	assert.Empty(t, fc.Calls())
}

func TestUpdate_EmptyTitleRejectedLocally(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.Seed(testutil.DefaultUser, seeded("t1", "Buy milk"))
	st := startStore(t, fc, taskstore.Options{})

	empty := "  "
	_, err := st.Update(context.Background(), "t1", task.Patch{Title: &empty})
	assert.ErrorIs(t, err, task.ErrEmptyTitle)
	assert.Empty(t, fc.Calls())

	got, err := st.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, "Buy milk", got.Title)
}

func TestUpdate_SetsUpdatedAtNotBeforeCreatedAt(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.Seed(testutil.DefaultUser, seeded("t1", "Buy milk"))

	// A clock running behind the record's creation time.
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	st := startStore(t, fc, taskstore.Options{Now: func() time.Time { return past }})

	done := true
	ack, err := st.Update(context.Background(), "t1", task.Patch{Completed: &done})
	require.NoError(t, err)
	require.NoError(t, waitAck(t, ack))

	got, err := st.Get("t1")
	require.NoError(t, err)
	require.NotNil(t, got.UpdatedAt)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
	assert.True(t, got.Completed)
	assert.NoError(t, got.Validate())
}

func TestMutations_Unauthenticated(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.Seed(testutil.DefaultUser, seeded("t1", "Buy milk"))
	st := startStore(t, fc, taskstore.Options{})

	fc.SetUser("")
	_, _, err := st.Create(context.Background(), task.Draft{Title: "x"})
	assert.ErrorIs(t, err, taskstore.ErrUnauthenticated)
	_, err = st.Delete(context.Background(), "t1")
	assert.ErrorIs(t, err, taskstore.ErrUnauthenticated)

	fc.SetUser("someone-else")
	title := "y"
	_, err = st.Update(context.Background(), "t1", task.Patch{Title: &title})
	assert.ErrorIs(t, err, taskstore.ErrUnauthenticated)

	assert.Empty(t, fc.Calls())
	assert.Len(t, st.List(""), 1)
}

func TestList_OrderedByTitleCaseInsensitive(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.Seed(testutil.DefaultUser,
		seeded("1", "banana"),
		seeded("2", "Apple"),
		seeded("3", "cherry"),
		seeded("4", "apple pie"),
	)
	st := startStore(t, fc, taskstore.Options{})

	assert.Equal(t, []string{"Apple", "apple pie", "banana", "cherry"}, titles(st.List("")))

	_, ack, err := st.Create(context.Background(), task.Draft{Title: "Avocado"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Apple", "apple pie", "Avocado", "banana", "cherry"}, titles(st.List("")))
	require.NoError(t, waitAck(t, ack))

	title := "Zucchini"
	ack, err = st.Update(context.Background(), "2", task.Patch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, []string{"apple pie", "Avocado", "banana", "cherry", "Zucchini"}, titles(st.List("")))
	require.NoError(t, waitAck(t, ack))
}

func TestList_FilterNarrowsWithoutChangingOrder(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.Seed(testutil.DefaultUser,
		seeded("1", "Buy milk"),
		seeded("2", "Walk dog"),
		seeded("3", "buy bread"),
	)
	st := startStore(t, fc, taskstore.Options{})

	assert.Equal(t, []string{"buy bread", "Buy milk"}, titles(st.List("BUY")))
	assert.Equal(t, []string{"buy bread", "Buy milk", "Walk dog"}, titles(st.List("")))
	assert.Empty(t, st.List("groceries"))
}

func TestSnapshot_MalformedRecordsSkippedIndividually(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.SetEcho(false)
	obs := newRecordingObserver()
	st := startStore(t, fc, taskstore.Options{Observer: obs})

	good := seeded("good", "Buy milk")
	untitled := seeded("untitled", "")
	foreign := seeded("foreign", "Not mine")
	foreign.OwnerID = "someone-else"
	dup := seeded("good", "Buy milk again")

	fc.Push(testutil.DefaultUser,
		[]task.Task{good, untitled, foreign, dup},
		&service.DecodeError{TaskID: "garbled", Err: errors.New("bad json")},
	)

	list := st.List("")
	require.Len(t, list, 1)
	assert.Equal(t, "good", list[0].ID)
	assert.Equal(t, 4, obs.count(func(o *recordingObserver) int { return o.skipped }))
}

func TestPendingTimeout_RemoteBaselineWinsAfterExpiry(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.SetEcho(false)
	obs := newRecordingObserver()
	st := startStore(t, fc, taskstore.Options{
		Observer:       obs,
		PendingTimeout: 40 * time.Millisecond,
	})

	created, ack, err := st.Create(context.Background(), task.Draft{Title: "Buy milk"})
	require.NoError(t, err)
	require.NoError(t, waitAck(t, ack))

	// The backend acknowledged but its listener never shows the task.
	fc.Push(testutil.DefaultUser, nil)
	assert.Equal(t, 1, countID(st.List(""), created.ID))

	assert.Eventually(t, func() bool {
		return len(st.List("")) == 0
	}, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, 1, obs.count(func(o *recordingObserver) int { return o.expired }))
}

func TestPendingTimeout_InFlightWritesDoNotExpire(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.SetEcho(false)
	fc.SetHold(true)
	st := startStore(t, fc, taskstore.Options{PendingTimeout: 10 * time.Millisecond})

	created, _, err := st.Create(context.Background(), task.Draft{Title: "Buy milk"})
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, countID(st.List(""), created.ID))
}

func TestFlush_WaitsForRemoteOperations(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.SetHold(true)
	st := startStore(t, fc, taskstore.Options{})

	_, _, err := st.Create(context.Background(), task.Draft{Title: "a"})
	require.NoError(t, err)
	_, _, err = st.Create(context.Background(), task.Draft{Title: "b"})
	require.NoError(t, err)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, st.Flush(short), context.DeadlineExceeded)

	require.True(t, fc.WaitHeld(2, waitTimeout))
	fc.ReleaseAll(nil)

	ctx, cancel2 := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel2()
	require.NoError(t, st.Flush(ctx))
	assert.Len(t, fc.Records(testutil.DefaultUser), 2)
}

func TestClose_ResolvesInFlightAcksAndRejectsMutations(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.SetHold(true)

	st := taskstore.New(fc, fc, taskstore.Options{})
	require.NoError(t, st.Start(context.Background()))

	created, ack, err := st.Create(context.Background(), task.Draft{Title: "Buy milk"})
	require.NoError(t, err)
	require.True(t, fc.WaitHeld(1, waitTimeout))

	require.NoError(t, st.Close())
	require.NoError(t, st.Close())

	assert.True(t, taskstore.IsRemoteWriteError(waitAck(t, ack)))

	_, _, err = st.Create(context.Background(), task.Draft{Title: "x"})
	assert.ErrorIs(t, err, taskstore.ErrClosed)

	// The last published view is still readable.
	assert.Equal(t, []string{created.ID}, ids(st.List("")))
}

func TestOnChange_ReceivesEveryNewView(t *testing.T) {
	fc := testutil.NewFakeCollection()
	fc.SetEcho(false)

	var (
		mu    sync.Mutex
		views [][]task.Task
	)
	st := startStore(t, fc, taskstore.Options{OnChange: func(v []task.Task) {
		mu.Lock()
		defer mu.Unlock()
		views = append(views, v)
	}})

	created, ack, err := st.Create(context.Background(), task.Draft{Title: "Buy milk"})
	require.NoError(t, err)
	require.NoError(t, waitAck(t, ack))

	// Echo of identical content does not change the view.
	fc.Push(testutil.DefaultUser, []task.Task{created})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, views, 1)
	assert.Equal(t, []string{created.ID}, ids(views[0]))
}

func TestList_AlwaysSortedUnderRandomOperations(t *testing.T) {
	fc := testutil.NewFakeCollection()
	st := startStore(t, fc, taskstore.Options{})
	rng := rand.New(rand.NewSource(42))
	words := []string{"apple", "Banana", "cherry", "Date", "elder", "Fig", "grape", "ápple", "BANANA"}

	var acks []*taskstore.Ack
	for i := 0; i < 60; i++ {
		list := st.List("")
		switch op := rng.Intn(3); {
		case op == 0 || len(list) == 0:
			_, ack, err := st.Create(context.Background(), task.Draft{Title: words[rng.Intn(len(words))]})
			require.NoError(t, err)
			acks = append(acks, ack)
		case op == 1:
			title := words[rng.Intn(len(words))]
			ack, err := st.Update(context.Background(), list[rng.Intn(len(list))].ID, task.Patch{Title: &title})
			require.NoError(t, err)
			acks = append(acks, ack)
		default:
			ack, err := st.Delete(context.Background(), list[rng.Intn(len(list))].ID)
			require.NoError(t, err)
			acks = append(acks, ack)
		}
		require.True(t, task.IsSorted(st.List("")), "unsorted after step %d", i)
	}

	for _, ack := range acks {
		require.NoError(t, waitAck(t, ack))
	}
	final := st.List("")
	assert.True(t, task.IsSorted(final))
	assert.ElementsMatch(t, ids(fc.Records(testutil.DefaultUser)), ids(final))
}
