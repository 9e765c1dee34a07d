package pager_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-github/v55/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-repo-activity/internal/executor"
	"github.com/kurihiro0119/github-repo-activity/internal/pager"
)

// passDoer runs each request once with no budget or retries.
type passDoer struct {
	calls int
}

func (d *passDoer) Execute(ctx context.Context, name string, req executor.Request) error {
	d.calls++
	_, err := req(ctx)
	return err
}

// source serves the integers [0, total) in pages of the requested size.
func source(total int, failOnPage int) pager.PageFunc[int] {
	return func(ctx context.Context, opts github.ListOptions) ([]int, *github.Response, error) {
		if opts.Page == failOnPage {
			return nil, nil, errors.New("boom")
		}
		from := (opts.Page - 1) * opts.PerPage
		to := from + opts.PerPage
		if to > total {
			to = total
		}
		var items []int
		for i := from; i < to; i++ {
			items = append(items, i)
		}
		resp := &github.Response{}
		if to < total {
			resp.NextPage = opts.Page + 1
		}
		return items, resp, nil
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func TestDrain_ReturnsEveryItemInOrder(t *testing.T) {
	doer := &passDoer{}
	s := pager.Drain(doer, "numbers", source(250, 0), 0)

	items, err := pager.Collect(context.Background(), s)

	require.NoError(t, err)
	require.Len(t, items, 250)
	for i, v := range items {
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 3, doer.calls)
	assert.Equal(t, 3, pager.Pages(s))
}

func TestDrain_CapFetchesOnlyNeededPages(t *testing.T) {
	totals := []int{0, 1, 99, 100, 101, 250}
	caps := []int{0, 1, 50, 100, 150, 300}

	for _, total := range totals {
		for _, itemCap := range caps {
			t.Run(fmt.Sprintf("total=%d cap=%d", total, itemCap), func(t *testing.T) {
				doer := &passDoer{}
				items, err := pager.Collect(context.Background(), pager.Drain(doer, "numbers", source(total, 0), itemCap))
				require.NoError(t, err)

				want := total
				if itemCap > 0 && itemCap < total {
					want = itemCap
				}
				require.Len(t, items, want)
				for i, v := range items {
					assert.Equal(t, i, v)
				}

				perPage := pager.MaxPerPage
				if itemCap > 0 && itemCap < perPage {
					perPage = itemCap
				}
				wantPages := ceilDiv(want, perPage)
				if wantPages == 0 {
					wantPages = 1
				}
				assert.Equal(t, wantPages, doer.calls)
			})
		}
	}
}

func TestDrain_PropagatesErrorWithPartialItems(t *testing.T) {
	doer := &passDoer{}
	items, err := pager.Collect(context.Background(), pager.Drain(doer, "numbers", source(300, 2), 0))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "numbers page 2")
	assert.Len(t, items, 100)
	assert.Equal(t, 2, doer.calls)
}

func TestDrain_IsLazy(t *testing.T) {
	doer := &passDoer{}
	s := pager.Drain(doer, "numbers", source(500, 0), 0)
	assert.Equal(t, 0, doer.calls)

	require.True(t, s.Next(context.Background()))
	assert.Equal(t, 1, doer.calls)

	items, err := pager.Collect(context.Background(), pager.Limit(s, 5))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, items)
	assert.Equal(t, 1, doer.calls)
}

func TestMapFiltersAndConverts(t *testing.T) {
	doer := &passDoer{}
	evens := pager.Map(pager.Drain(doer, "numbers", source(10, 0), 0), func(v int) (string, bool) {
		return fmt.Sprintf("#%d", v), v%2 == 0
	})

	items, err := pager.Collect(context.Background(), pager.Limit(evens, 3))

	require.NoError(t, err)
	assert.Equal(t, []string{"#0", "#2", "#4"}, items)
}

func TestFromSliceReportsErrorAfterItems(t *testing.T) {
	boom := errors.New("boom")
	s := pager.FromSlice([]string{"a", "b"}, boom)

	require.True(t, s.Next(context.Background()))
	assert.NoError(t, s.Err())

	items, err := pager.Collect(context.Background(), s)
	assert.Equal(t, []string{"b"}, items)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, pager.Failed[int](boom).Err(), boom)
}

func TestTakeWhileStopsWithoutFetchingMore(t *testing.T) {
	doer := &passDoer{}
	s := pager.TakeWhile(pager.Drain(doer, "numbers", source(500, 0), 0), func(v int) bool {
		return v < 120
	})

	items, err := pager.Collect(context.Background(), s)

	require.NoError(t, err)
	assert.Len(t, items, 120)
	assert.Equal(t, 2, doer.calls)
}

func TestLazyLoadsOnFirstNext(t *testing.T) {
	loads := 0
	s := pager.Lazy(func(ctx context.Context) ([]string, error) {
		loads++
		return []string{"only"}, nil
	})
	assert.Equal(t, 0, loads)

	items, err := pager.Collect(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, items)
	assert.Equal(t, 1, loads)
}
