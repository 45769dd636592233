// ABOUTME: Tests for the per-task ledger: pagination, snapshot merge, atomicity
// ABOUTME: Covers duplicate suppression, page-zero scope, and settle hooks

package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tasksync/internal/message"
	"github.com/2389/tasksync/internal/transport"
)

// fakeLister serves pre-programmed pages keyed by cursor.
type fakeLister struct {
	pages map[string]*transport.Page
	errs  map[string]error
	calls []string
}

func (f *fakeLister) List(ctx context.Context, params transport.ListParams) (*transport.Page, error) {
	f.calls = append(f.calls, params.Cursor)
	if err, ok := f.errs[params.Cursor]; ok {
		return nil, err
	}
	p, ok := f.pages[params.Cursor]
	if !ok {
		return &transport.Page{}, nil
	}
	return p, nil
}

// msg builds a test message. Index determines id and timestamp so ordering
// assertions stay readable.
func msg(id string, author message.Author, at int) message.Message {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return message.Message{
		ID:           id,
		TaskID:       "task-1",
		Author:       author,
		Content:      message.Text("msg " + id),
		CreatedAt:    base.Add(time.Duration(at) * time.Second),
		UpdatedAt:    base.Add(time.Duration(at) * time.Second),
		StreamStatus: message.StreamDone,
	}
}

func ids(msgs []message.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestFetchOlder_FirstPage(t *testing.T) {
	l := New("task-1", nil)
	lister := &fakeLister{pages: map[string]*transport.Page{
		"": {
			Messages:   []message.Message{msg("c", message.AuthorAgent, 3), msg("b", message.AuthorAgent, 2), msg("a", message.AuthorUser, 1)},
			HasMore:    true,
			NextCursor: "cur-1",
		},
	}}

	require.NoError(t, l.FetchOlder(context.Background(), lister, 50))

	assert.True(t, l.Fetched())
	assert.True(t, l.HasMore())
	assert.Equal(t, []string{"a", "b", "c"}, ids(l.Messages()))
}

func TestFetchOlder_Monotonic(t *testing.T) {
	l := New("task-1", nil)
	lister := &fakeLister{pages: map[string]*transport.Page{
		"": {
			Messages:   []message.Message{msg("d", message.AuthorAgent, 4), msg("c", message.AuthorUser, 3)},
			HasMore:    true,
			NextCursor: "cur-1",
		},
		"cur-1": {
			// The gateway re-serves "c" at the page boundary; it must not
			// appear twice.
			Messages: []message.Message{msg("c", message.AuthorUser, 3), msg("b", message.AuthorAgent, 2), msg("a", message.AuthorUser, 1)},
			HasMore:  false,
		},
	}}

	ctx := context.Background()
	require.NoError(t, l.FetchOlder(ctx, lister, 50))
	require.NoError(t, l.FetchOlder(ctx, lister, 50))

	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(l.Messages()))
	assert.False(t, l.HasMore())

	// Exhausted history: another call is a no-op, no extra fetch.
	require.NoError(t, l.FetchOlder(ctx, lister, 50))
	assert.Equal(t, []string{"", "cur-1"}, lister.calls)
}

func TestFetchOlder_FailureLeavesPagesIntact(t *testing.T) {
	l := New("task-1", nil)
	lister := &fakeLister{
		pages: map[string]*transport.Page{
			"": {Messages: []message.Message{msg("b", message.AuthorAgent, 2)}, HasMore: true, NextCursor: "cur-1"},
		},
		errs: map[string]error{"cur-1": fmt.Errorf("boom")},
	}

	ctx := context.Background()
	require.NoError(t, l.FetchOlder(ctx, lister, 50))
	require.Error(t, l.FetchOlder(ctx, lister, 50))

	// Cached page untouched; the failed fetch is retryable.
	assert.Equal(t, []string{"b"}, ids(l.Messages()))
	assert.True(t, l.HasMore())

	lister.errs = nil
	lister.pages["cur-1"] = &transport.Page{Messages: []message.Message{msg("a", message.AuthorUser, 1)}}
	require.NoError(t, l.FetchOlder(ctx, lister, 50))
	assert.Equal(t, []string{"a", "b"}, ids(l.Messages()))
}

func TestFetchOlder_CancelledMidFlightDoesNotCommit(t *testing.T) {
	l := New("task-1", nil)
	ctx, cancel := context.WithCancel(context.Background())
	lister := &cancellingLister{cancel: cancel, page: &transport.Page{
		Messages: []message.Message{msg("a", message.AuthorUser, 1)},
	}}

	err := l.FetchOlder(ctx, lister, 50)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, l.Fetched())
	assert.Empty(t, l.Messages())
}

// cancellingLister cancels the context while the fetch is in flight.
type cancellingLister struct {
	cancel context.CancelFunc
	page   *transport.Page
}

func (c *cancellingLister) List(ctx context.Context, params transport.ListParams) (*transport.Page, error) {
	c.cancel()
	return c.page, nil
}

func TestApplySnapshot_BeforeFirstFetchDefers(t *testing.T) {
	l := New("task-1", nil)

	merged := l.ApplySnapshot(context.Background(), []message.Message{msg("a", message.AuthorUser, 1)})

	assert.False(t, merged)
	assert.Empty(t, l.Messages())
	assert.False(t, l.HasMore())
}

func TestApplySnapshot_PageZeroOnly(t *testing.T) {
	l := New("task-1", nil)
	lister := &fakeLister{pages: map[string]*transport.Page{
		"": {Messages: []message.Message{msg("d", message.AuthorAgent, 4), msg("c", message.AuthorUser, 3)}, HasMore: true, NextCursor: "cur-1"},
		"cur-1": {Messages: []message.Message{msg("b", message.AuthorAgent, 2), msg("a", message.AuthorUser, 1)}, HasMore: false},
	}}
	ctx := context.Background()
	require.NoError(t, l.FetchOlder(ctx, lister, 50))
	require.NoError(t, l.FetchOlder(ctx, lister, 50))

	// Snapshot re-delivers "b" (already paginated past) plus a new "e".
	merged := l.ApplySnapshot(ctx, []message.Message{
		msg("e", message.AuthorAgent, 5),
		msg("d", message.AuthorAgent, 4),
		msg("c", message.AuthorUser, 3),
		msg("b", message.AuthorAgent, 2),
	})

	require.True(t, merged)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids(l.Messages()))
	// Pagination metadata stays owned by the fetch path.
	assert.False(t, l.HasMore())
}

func TestApplySnapshot_ThenFetchNoDuplicates(t *testing.T) {
	l := New("task-1", nil)
	lister := &fakeLister{pages: map[string]*transport.Page{
		"": {Messages: []message.Message{msg("c", message.AuthorUser, 3)}, HasMore: true, NextCursor: "cur-1"},
		"cur-1": {Messages: []message.Message{msg("b", message.AuthorAgent, 2), msg("a", message.AuthorUser, 1)}, HasMore: false},
	}}
	ctx := context.Background()
	require.NoError(t, l.FetchOlder(ctx, lister, 50))

	// Push delivers "d" and re-delivers "c" before the older fetch lands.
	require.True(t, l.ApplySnapshot(ctx, []message.Message{msg("d", message.AuthorAgent, 4), msg("c", message.AuthorUser, 3)}))
	require.NoError(t, l.FetchOlder(ctx, lister, 50))

	all := ids(l.Messages())
	assert.Equal(t, []string{"a", "b", "c", "d"}, all)

	seen := make(map[string]int)
	for _, id := range all {
		seen[id]++
	}
	for id, n := range seen {
		assert.Equalf(t, 1, n, "message %s appeared %d times", id, n)
	}
}

func TestApplySnapshot_StreamingUpdateInPlace(t *testing.T) {
	l := New("task-1", nil)
	lister := &fakeLister{pages: map[string]*transport.Page{"": {}}}
	ctx := context.Background()
	require.NoError(t, l.FetchOlder(ctx, lister, 50))

	partial := msg("s", message.AuthorAgent, 1)
	partial.StreamStatus = message.StreamInProgress
	partial.Content = message.Text("par")
	require.True(t, l.ApplySnapshot(ctx, []message.Message{partial}))

	var settled []string
	l.OnSettle(func(taskID string) { settled = append(settled, taskID) })

	done := msg("s", message.AuthorAgent, 1)
	done.Content = message.Text("partial now complete")
	require.True(t, l.ApplySnapshot(ctx, []message.Message{done}))

	got := l.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "partial now complete", got[0].Content.Text)
	assert.Equal(t, message.StreamDone, got[0].StreamStatus)
	assert.Equal(t, []string{"task-1"}, settled)
}

func TestApplySnapshot_RetainsFailedLocalSend(t *testing.T) {
	l := New("task-1", nil)
	lister := &fakeLister{pages: map[string]*transport.Page{"": {}}}
	ctx := context.Background()
	require.NoError(t, l.FetchOlder(ctx, lister, 50))

	local := msg("local", message.AuthorUser, 5)
	l.Append(local)
	require.True(t, l.MarkFailed("local"))

	// The gateway never saw the failed send; its snapshot omits it.
	require.True(t, l.ApplySnapshot(ctx, []message.Message{msg("a", message.AuthorAgent, 1)}))

	got := l.Messages()
	require.Len(t, got, 2)
	assert.Equal(t, "local", got[1].ID)
	assert.True(t, got[1].SendFailed)
}

func TestApplySnapshot_CancelledContextDoesNotCommit(t *testing.T) {
	l := New("task-1", nil)
	lister := &fakeLister{pages: map[string]*transport.Page{
		"": {Messages: []message.Message{msg("a", message.AuthorUser, 1)}},
	}}
	require.NoError(t, l.FetchOlder(context.Background(), lister, 50))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	merged := l.ApplySnapshot(ctx, []message.Message{msg("b", message.AuthorAgent, 2)})

	assert.False(t, merged)
	assert.Equal(t, []string{"a"}, ids(l.Messages()))
}

func TestReplaceAll_DiscardsOlderPages(t *testing.T) {
	l := New("task-1", nil)
	lister := &fakeLister{pages: map[string]*transport.Page{
		"": {Messages: []message.Message{msg("b", message.AuthorAgent, 2)}, HasMore: true, NextCursor: "cur-1"},
		"cur-1": {Messages: []message.Message{msg("a", message.AuthorUser, 1)}, HasMore: false},
	}}
	ctx := context.Background()
	require.NoError(t, l.FetchOlder(ctx, lister, 50))
	require.NoError(t, l.FetchOlder(ctx, lister, 50))

	l.ReplaceAll(&transport.Page{
		Messages:   []message.Message{msg("c", message.AuthorAgent, 3), msg("b", message.AuthorAgent, 2)},
		HasMore:    true,
		NextCursor: "cur-2",
	})

	assert.Equal(t, []string{"b", "c"}, ids(l.Messages()))
	assert.True(t, l.HasMore())
}

func TestReplaceView_PreservesOlderPagesAndMetadata(t *testing.T) {
	l := New("task-1", nil)
	lister := &fakeLister{pages: map[string]*transport.Page{
		"": {Messages: []message.Message{msg("b", message.AuthorUser, 2)}, HasMore: true, NextCursor: "cur-1"},
		"cur-1": {Messages: []message.Message{msg("a", message.AuthorUser, 1)}, HasMore: false},
	}}
	ctx := context.Background()
	require.NoError(t, l.FetchOlder(ctx, lister, 50))
	require.NoError(t, l.FetchOlder(ctx, lister, 50))

	// Aggregator output covers the whole view plus a streaming partial.
	l.ReplaceView([]message.Message{
		msg("a", message.AuthorUser, 1),
		msg("b", message.AuthorUser, 2),
		msg("p", message.AuthorAgent, 3),
	})

	assert.Equal(t, []string{"a", "b", "p"}, ids(l.Messages()))
	assert.False(t, l.HasMore()) // oldest page exhausted, metadata untouched
}

func TestAppend_BeforeFetchStaysUnfetched(t *testing.T) {
	l := New("task-1", nil)
	l.Append(msg("opt", message.AuthorUser, 1))

	assert.Equal(t, []string{"opt"}, ids(l.Messages()))
	assert.False(t, l.Fetched())

	// The synthetic page has no pagination authority; snapshots still defer.
	assert.False(t, l.ApplySnapshot(context.Background(), []message.Message{msg("x", message.AuthorAgent, 2)}))
}

func TestFirstFetch_CarriesOverLocalMessages(t *testing.T) {
	l := New("task-1", nil)
	l.Append(msg("opt", message.AuthorUser, 9))

	lister := &fakeLister{pages: map[string]*transport.Page{
		"": {Messages: []message.Message{msg("a", message.AuthorUser, 1)}},
	}}
	require.NoError(t, l.FetchOlder(context.Background(), lister, 50))

	assert.Equal(t, []string{"a", "opt"}, ids(l.Messages()))
	assert.True(t, l.Fetched())
}

func TestUserMessageCount(t *testing.T) {
	l := New("task-1", nil)
	lister := &fakeLister{pages: map[string]*transport.Page{
		"": {Messages: []message.Message{
			msg("c", message.AuthorAgent, 3),
			msg("b", message.AuthorUser, 2),
			msg("a", message.AuthorUser, 1),
		}},
	}}
	require.NoError(t, l.FetchOlder(context.Background(), lister, 50))

	assert.Equal(t, 2, l.UserMessageCount())
}
