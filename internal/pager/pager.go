// Package pager turns paginated GitHub list endpoints into lazy streams.
package pager

import (
	"context"
	"fmt"

	"github.com/google/go-github/v55/github"

	"github.com/kurihiro0119/github-repo-activity/internal/executor"
)

// MaxPerPage is the largest page size the REST API accepts
const MaxPerPage = 100

// Stream is a forward-only, non-restartable sequence. Next fetches more data
// only when the items already received are used up. After Next returns
// false, Err reports why the stream ended early, if it did.
type Stream[T any] interface {
	Next(ctx context.Context) bool
	Item() T
	Err() error
}

// PageFunc fetches one page of a collection
type PageFunc[T any] func(ctx context.Context, opts github.ListOptions) ([]T, *github.Response, error)

type pageStream[T any] struct {
	doer     executor.Doer
	name     string
	fetch    PageFunc[T]
	itemCap  int
	perPage  int
	nextPage int
	pages    int
	yielded  int
	buf      []T
	cur      T
	done     bool
	err      error
}

// Drain returns a stream over every item of a paginated collection, in page
// order. A positive itemCap stops the stream after that many items; zero
// means unlimited. Each page goes through doer, so each page is rate-budgeted
// and retried on its own.
func Drain[T any](doer executor.Doer, name string, fetch PageFunc[T], itemCap int) Stream[T] {
	perPage := MaxPerPage
	if itemCap > 0 && itemCap < perPage {
		perPage = itemCap
	}
	return &pageStream[T]{
		doer:     doer,
		name:     name,
		fetch:    fetch,
		itemCap:  itemCap,
		perPage:  perPage,
		nextPage: 1,
	}
}

func (s *pageStream[T]) Next(ctx context.Context) bool {
	if s.itemCap > 0 && s.yielded >= s.itemCap {
		s.done = true
		s.buf = nil
		return false
	}
	for len(s.buf) == 0 {
		if s.done || s.err != nil {
			return false
		}
		if err := s.fetchPage(ctx); err != nil {
			s.err = err
			return false
		}
	}

	s.cur = s.buf[0]
	s.buf = s.buf[1:]
	s.yielded++
	return true
}

func (s *pageStream[T]) fetchPage(ctx context.Context) error {
	page := s.nextPage
	var items []T
	var resp *github.Response

	err := s.doer.Execute(ctx, fmt.Sprintf("%s page %d", s.name, page), func(ctx context.Context) (*github.Response, error) {
		var err error
		items, resp, err = s.fetch(ctx, github.ListOptions{Page: page, PerPage: s.perPage})
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("%s page %d: %w", s.name, page, err)
	}

	s.pages++
	s.buf = items
	if resp == nil || resp.NextPage == 0 || len(items) == 0 {
		s.done = true
	} else {
		s.nextPage = resp.NextPage
	}
	return nil
}

func (s *pageStream[T]) Item() T {
	return s.cur
}

func (s *pageStream[T]) Err() error {
	return s.err
}

// Pages reports how many pages a stream returned by Drain has fetched
func Pages[T any](s Stream[T]) int {
	if ps, ok := s.(*pageStream[T]); ok {
		return ps.pages
	}
	return 0
}

type mapStream[T, U any] struct {
	src Stream[T]
	fn  func(T) (U, bool)
	cur U
}

// Map converts each item of src, dropping items for which fn returns false
func Map[T, U any](src Stream[T], fn func(T) (U, bool)) Stream[U] {
	return &mapStream[T, U]{src: src, fn: fn}
}

func (m *mapStream[T, U]) Next(ctx context.Context) bool {
	for m.src.Next(ctx) {
		if v, ok := m.fn(m.src.Item()); ok {
			m.cur = v
			return true
		}
	}
	return false
}

func (m *mapStream[T, U]) Item() U    { return m.cur }
func (m *mapStream[T, U]) Err() error { return m.src.Err() }

type limitStream[T any] struct {
	src Stream[T]
	n   int
	cur T
}

// Limit stops src after n items without pulling further data. n <= 0 means
// no limit.
func Limit[T any](src Stream[T], n int) Stream[T] {
	if n <= 0 {
		return src
	}
	return &limitStream[T]{src: src, n: n}
}

func (l *limitStream[T]) Next(ctx context.Context) bool {
	if l.n <= 0 || !l.src.Next(ctx) {
		return false
	}
	l.n--
	l.cur = l.src.Item()
	return true
}

func (l *limitStream[T]) Item() T    { return l.cur }
func (l *limitStream[T]) Err() error { return l.src.Err() }

type sliceStream[T any] struct {
	items []T
	err   error
	cur   T
}

// FromSlice streams items and then reports err, if any
func FromSlice[T any](items []T, err error) Stream[T] {
	return &sliceStream[T]{items: items, err: err}
}

// Failed returns an empty stream that reports err
func Failed[T any](err error) Stream[T] {
	return &sliceStream[T]{err: err}
}

func (s *sliceStream[T]) Next(ctx context.Context) bool {
	if len(s.items) == 0 {
		return false
	}
	s.cur = s.items[0]
	s.items = s.items[1:]
	return true
}

func (s *sliceStream[T]) Item() T { return s.cur }

func (s *sliceStream[T]) Err() error {
	if len(s.items) > 0 {
		return nil
	}
	return s.err
}

// Collect reads s to the end. Items gathered before a failure are returned
// together with the error.
func Collect[T any](ctx context.Context, s Stream[T]) ([]T, error) {
	var out []T
	for s.Next(ctx) {
		out = append(out, s.Item())
	}
	return out, s.Err()
}

type lazyStream[T any] struct {
	load   func(ctx context.Context) ([]T, error)
	loaded bool
	inner  Stream[T]
}

// Lazy defers load until the first call to Next. It suits resources that are
// assembled from several requests rather than drained page by page.
func Lazy[T any](load func(ctx context.Context) ([]T, error)) Stream[T] {
	return &lazyStream[T]{load: load}
}

func (l *lazyStream[T]) Next(ctx context.Context) bool {
	if !l.loaded {
		l.loaded = true
		items, err := l.load(ctx)
		l.inner = FromSlice(items, err)
	}
	return l.inner.Next(ctx)
}

func (l *lazyStream[T]) Item() T {
	if l.inner == nil {
		var zero T
		return zero
	}
	return l.inner.Item()
}

func (l *lazyStream[T]) Err() error {
	if l.inner == nil {
		return nil
	}
	return l.inner.Err()
}

type takeWhileStream[T any] struct {
	src     Stream[T]
	keep    func(T) bool
	stopped bool
	cur     T
}

// TakeWhile ends the stream at the first item for which keep returns false.
// No data past that item is requested.
func TakeWhile[T any](src Stream[T], keep func(T) bool) Stream[T] {
	return &takeWhileStream[T]{src: src, keep: keep}
}

func (t *takeWhileStream[T]) Next(ctx context.Context) bool {
	if t.stopped || !t.src.Next(ctx) {
		return false
	}
	if !t.keep(t.src.Item()) {
		t.stopped = true
		return false
	}
	t.cur = t.src.Item()
	return true
}

func (t *takeWhileStream[T]) Item() T    { return t.cur }
func (t *takeWhileStream[T]) Err() error { return t.src.Err() }
