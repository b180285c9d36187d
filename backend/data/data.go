package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

type DuplicationError struct {
	Field string // Field or fields that caused the rejection
}

func (e DuplicationError) Error() string {
	return fmt.Sprintf("%s is already taken", e.Field)
}

type User struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Feed struct {
	ID            uuid.UUID
	Name          string
	URL           string
	UserID        uuid.UUID
	LastFetchedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FeedWithOwner is a Feed joined with the name of the user that added it.
type FeedWithOwner struct {
	Feed
	UserName string
}

type FeedFollow struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	FeedID    uuid.UUID
	UserName  string
	FeedName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Post struct {
	ID          uuid.UUID
	Title       string
	URL         string
	Description *string
	PublishedAt *time.Time
	FeedID      uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PostForUser is a Post as seen through a user's follows.
type PostForUser struct {
	Post
	FeedName string
}

// FeedStore is the part of the store the feed updater selects and stamps
// feeds through.
type FeedStore interface {
	// SelectNextFeedToFetch returns the feed with the oldest last fetch time.
	// Feeds that have never been fetched come first. It returns ErrNotFound
	// when there are no feeds.
	SelectNextFeedToFetch(ctx context.Context) (*Feed, error)
	MarkFeedFetched(ctx context.Context, feedID uuid.UUID, fetchTime time.Time) error
}

// PostStore is the part of the store the ingester writes posts through.
type PostStore interface {
	// InsertPost returns DuplicationError{Field: "url"} when a post with the
	// same URL already exists.
	InsertPost(ctx context.Context, post *Post) error
}

// Store is everything the gator commands need from persistent storage.
type Store interface {
	FeedStore
	PostStore

	CreateUser(ctx context.Context, name string) (*User, error)
	SelectUserByName(ctx context.Context, name string) (*User, error)
	SelectUsers(ctx context.Context) ([]User, error)
	DeleteAllUsers(ctx context.Context) error

	CreateFeed(ctx context.Context, name, url string, userID uuid.UUID) (*Feed, error)
	SelectFeedByURL(ctx context.Context, url string) (*Feed, error)
	SelectFeeds(ctx context.Context) ([]FeedWithOwner, error)

	CreateFeedFollow(ctx context.Context, userID, feedID uuid.UUID) (*FeedFollow, error)
	SelectFeedFollowsForUser(ctx context.Context, userID uuid.UUID) ([]FeedFollow, error)
	DeleteFeedFollow(ctx context.Context, userID uuid.UUID, feedURL string) error

	SelectPostsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]PostForUser, error)

	Close() error
}
