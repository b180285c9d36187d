package backend

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Nbk-Juno/rss-gator/backend/data"
	"github.com/google/uuid"
	log "gopkg.in/inconshreveable/log15.v2"
)

func discardLogger() log.Logger {
	logger := log.New()
	logger.SetHandler(log.DiscardHandler())
	return logger
}

// memStore is an in-memory FeedStore and PostStore for exercising the
// updater and ingester without a database.
type memStore struct {
	mu         sync.Mutex
	feeds      []*data.Feed
	posts      map[string]*data.Post
	insertErrs map[string]error
	markErr    error
	selectErr  error
}

func newMemStore() *memStore {
	return &memStore{posts: map[string]*data.Post{}, insertErrs: map[string]error{}}
}

func (s *memStore) addFeed(name, url string, createdAt time.Time) *data.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()

	feed := &data.Feed{ID: uuid.New(), Name: name, URL: url, CreatedAt: createdAt, UpdatedAt: createdAt}
	s.feeds = append(s.feeds, feed)
	return feed
}

func (s *memStore) feed(id uuid.UUID) data.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.feeds {
		if f.ID == id {
			return *f
		}
	}
	return data.Feed{}
}

func (s *memStore) postCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

func (s *memStore) SelectNextFeedToFetch(ctx context.Context) (*data.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selectErr != nil {
		return nil, s.selectErr
	}
	if len(s.feeds) == 0 {
		return nil, data.ErrNotFound
	}

	feeds := make([]*data.Feed, len(s.feeds))
	copy(feeds, s.feeds)
	sort.SliceStable(feeds, func(i, j int) bool {
		a, b := feeds[i], feeds[j]
		switch {
		case a.LastFetchedAt == nil && b.LastFetchedAt != nil:
			return true
		case a.LastFetchedAt != nil && b.LastFetchedAt == nil:
			return false
		case a.LastFetchedAt != nil && !a.LastFetchedAt.Equal(*b.LastFetchedAt):
			return a.LastFetchedAt.Before(*b.LastFetchedAt)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	feed := *feeds[0]
	return &feed, nil
}

func (s *memStore) MarkFeedFetched(ctx context.Context, feedID uuid.UUID, fetchTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.markErr != nil {
		return s.markErr
	}
	for _, f := range s.feeds {
		if f.ID == feedID {
			t := fetchTime
			f.LastFetchedAt = &t
			f.UpdatedAt = fetchTime
			return nil
		}
	}
	return data.ErrNotFound
}

func (s *memStore) InsertPost(ctx context.Context, post *data.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertErrs[post.URL]; err != nil {
		return err
	}
	if _, ok := s.posts[post.URL]; ok {
		return data.DuplicationError{Field: "url"}
	}

	p := *post
	s.posts[post.URL] = &p
	return nil
}

// stubFetcher returns canned results and records the URLs it was asked for.
type stubFetcher struct {
	mu      sync.Mutex
	urls    []string
	feed    *ParsedFeed
	err     error
	onFetch func(url string)
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (*ParsedFeed, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	onFetch := f.onFetch
	f.mu.Unlock()

	if onFetch != nil {
		onFetch(url)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.feed == nil {
		return nil, errors.New("no feed configured")
	}
	return f.feed, nil
}

func (f *stubFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}
