package testdata

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgxutil"
	"github.com/stretchr/testify/require"
)

var counter atomic.Int64

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ID returns the id column of a record created by one of the factories.
func ID(t testing.TB, record map[string]any) uuid.UUID {
	switch id := record["id"].(type) {
	case [16]byte:
		return uuid.UUID(id)
	case uuid.UUID:
		return id
	default:
		require.FailNow(t, "record has no uuid id", "%#v", record["id"])
		return uuid.Nil
	}
}

func defaultID(attrs map[string]any) {
	if _, ok := attrs["id"]; !ok {
		attrs["id"] = uuid.New()
	}
}

func CreateUser(t testing.TB, db DB, ctx context.Context, attrs map[string]any) map[string]any {
	n := counter.Add(1)

	if attrs == nil {
		attrs = make(map[string]any)
	}
	defaultID(attrs)
	if _, ok := attrs["name"]; !ok {
		attrs["name"] = fmt.Sprintf("user%v", n)
	}

	user, err := pgxutil.Insert(ctx, db, "users", attrs)
	require.NoError(t, err)

	return user
}

func CreateFeed(t testing.TB, db DB, ctx context.Context, attrs map[string]any) map[string]any {
	n := counter.Add(1)

	if attrs == nil {
		attrs = make(map[string]any)
	}
	defaultID(attrs)
	if _, ok := attrs["user_id"]; !ok {
		attrs["user_id"] = ID(t, CreateUser(t, db, ctx, nil))
	}
	if _, ok := attrs["name"]; !ok {
		attrs["name"] = fmt.Sprintf("Feed %v", n)
	}
	if _, ok := attrs["url"]; !ok {
		attrs["url"] = fmt.Sprintf("http://localhost/%v", n)
	}

	feed, err := pgxutil.Insert(ctx, db, "feeds", attrs)
	require.NoError(t, err)

	return feed
}

func CreatePost(t testing.TB, db DB, ctx context.Context, attrs map[string]any) map[string]any {
	n := counter.Add(1)

	if attrs == nil {
		attrs = make(map[string]any)
	}
	defaultID(attrs)
	if _, ok := attrs["feed_id"]; !ok {
		attrs["feed_id"] = ID(t, CreateFeed(t, db, ctx, nil))
	}
	if _, ok := attrs["title"]; !ok {
		attrs["title"] = fmt.Sprintf("Title %v", n)
	}
	if _, ok := attrs["url"]; !ok {
		attrs["url"] = fmt.Sprintf("http://localhost/posts/%v", n)
	}
	if _, ok := attrs["published_at"]; !ok {
		attrs["published_at"] = time.Now()
	}

	post, err := pgxutil.Insert(ctx, db, "posts", attrs)
	require.NoError(t, err)

	return post
}
