package data_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/Nbk-Juno/rss-gator/backend/data"
	"github.com/Nbk-Juno/rss-gator/test/testdata"
	"github.com/Nbk-Juno/rss-gator/test/testutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/testdb"
	"github.com/stretchr/testify/require"
)

var TestDBManager *testdb.Manager

func TestMain(m *testing.M) {
	if os.Getenv("TEST_DATABASE") != "" {
		TestDBManager = testutil.InitTestDBManager(m)
	}
	os.Exit(m.Run())
}

func newPgxPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	if TestDBManager == nil {
		t.Skip("TEST_DATABASE not set")
	}
	db := TestDBManager.AcquireDB(t, ctx)
	return db.PoolConnect(t, ctx)
}

// forEachStore runs f against every Store implementation that is available.
func forEachStore(t *testing.T, f func(t *testing.T, ctx context.Context, store data.Store)) {
	t.Run("gorm", func(t *testing.T) {
		ctx := context.Background()
		store, err := data.NewGormStore(":memory:")
		require.NoError(t, err)
		defer store.Close()
		f(t, ctx, store)
	})

	t.Run("pgx", func(t *testing.T) {
		ctx := context.Background()
		f(t, ctx, data.NewPgxStore(newPgxPool(t, ctx)))
	})
}

func TestStoreUsers(t *testing.T) {
	forEachStore(t, func(t *testing.T, ctx context.Context, store data.Store) {
		kahya, err := store.CreateUser(ctx, "kahya")
		require.NoError(t, err)
		require.NotEqual(t, uuid.Nil, kahya.ID)
		require.Equal(t, "kahya", kahya.Name)
		require.False(t, kahya.CreatedAt.IsZero())

		_, err = store.CreateUser(ctx, "kahya")
		var dupErr data.DuplicationError
		require.True(t, errors.As(err, &dupErr), "expected DuplicationError, got %v", err)
		require.Equal(t, "name", dupErr.Field)

		_, err = store.CreateUser(ctx, "holgith")
		require.NoError(t, err)

		user, err := store.SelectUserByName(ctx, "kahya")
		require.NoError(t, err)
		require.Equal(t, kahya.ID, user.ID)

		_, err = store.SelectUserByName(ctx, "nobody")
		require.ErrorIs(t, err, data.ErrNotFound)

		users, err := store.SelectUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 2)
		require.Equal(t, "holgith", users[0].Name)
		require.Equal(t, "kahya", users[1].Name)
	})
}

func TestStoreFeeds(t *testing.T) {
	forEachStore(t, func(t *testing.T, ctx context.Context, store data.Store) {
		user, err := store.CreateUser(ctx, "kahya")
		require.NoError(t, err)

		feed, err := store.CreateFeed(ctx, "News", "http://example.org/rss", user.ID)
		require.NoError(t, err)
		require.Equal(t, "News", feed.Name)
		require.Equal(t, user.ID, feed.UserID)
		require.Nil(t, feed.LastFetchedAt)

		_, err = store.CreateFeed(ctx, "Again", "http://example.org/rss", user.ID)
		var dupErr data.DuplicationError
		require.True(t, errors.As(err, &dupErr), "expected DuplicationError, got %v", err)
		require.Equal(t, "url", dupErr.Field)

		found, err := store.SelectFeedByURL(ctx, "http://example.org/rss")
		require.NoError(t, err)
		require.Equal(t, feed.ID, found.ID)

		_, err = store.SelectFeedByURL(ctx, "http://example.org/missing")
		require.ErrorIs(t, err, data.ErrNotFound)

		feeds, err := store.SelectFeeds(ctx)
		require.NoError(t, err)
		require.Len(t, feeds, 1)
		require.Equal(t, "kahya", feeds[0].UserName)
		require.Equal(t, feed.ID, feeds[0].ID)
	})
}

func TestStoreSelectNextFeedToFetch(t *testing.T) {
	forEachStore(t, func(t *testing.T, ctx context.Context, store data.Store) {
		_, err := store.SelectNextFeedToFetch(ctx)
		require.ErrorIs(t, err, data.ErrNotFound)

		user, err := store.CreateUser(ctx, "kahya")
		require.NoError(t, err)

		var ids []uuid.UUID
		for _, url := range []string{"http://example.org/a", "http://example.org/b", "http://example.org/c"} {
			feed, err := store.CreateFeed(ctx, url, url, user.ID)
			require.NoError(t, err)
			ids = append(ids, feed.ID)
			time.Sleep(2 * time.Millisecond)
		}

		fetchTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 4; i++ {
			next, err := store.SelectNextFeedToFetch(ctx)
			require.NoError(t, err)
			require.Equal(t, ids[i%3], next.ID, "tick %d", i)

			fetchTime = fetchTime.Add(time.Minute)
			require.NoError(t, store.MarkFeedFetched(ctx, next.ID, fetchTime))
		}

		feed, err := store.SelectFeedByURL(ctx, "http://example.org/a")
		require.NoError(t, err)
		require.NotNil(t, feed.LastFetchedAt)
		require.True(t, fetchTime.Equal(*feed.LastFetchedAt), "expected %v, got %v", fetchTime, *feed.LastFetchedAt)

		err = store.MarkFeedFetched(ctx, uuid.New(), fetchTime)
		require.ErrorIs(t, err, data.ErrNotFound)
	})
}

func TestStoreSelectNextFeedToFetchPrefersNeverFetched(t *testing.T) {
	forEachStore(t, func(t *testing.T, ctx context.Context, store data.Store) {
		user, err := store.CreateUser(ctx, "kahya")
		require.NoError(t, err)

		fetched, err := store.CreateFeed(ctx, "Old", "http://example.org/old", user.ID)
		require.NoError(t, err)
		require.NoError(t, store.MarkFeedFetched(ctx, fetched.ID, time.Now()))

		time.Sleep(2 * time.Millisecond)
		fresh, err := store.CreateFeed(ctx, "New", "http://example.org/new", user.ID)
		require.NoError(t, err)

		next, err := store.SelectNextFeedToFetch(ctx)
		require.NoError(t, err)
		require.Equal(t, fresh.ID, next.ID)

		require.NoError(t, store.MarkFeedFetched(ctx, fresh.ID, time.Now().Add(time.Minute)))

		next, err = store.SelectNextFeedToFetch(ctx)
		require.NoError(t, err)
		require.Equal(t, fetched.ID, next.ID)
	})
}

func TestStoreFeedFollows(t *testing.T) {
	forEachStore(t, func(t *testing.T, ctx context.Context, store data.Store) {
		kahya, err := store.CreateUser(ctx, "kahya")
		require.NoError(t, err)
		holgith, err := store.CreateUser(ctx, "holgith")
		require.NoError(t, err)

		news, err := store.CreateFeed(ctx, "News", "http://example.org/news", kahya.ID)
		require.NoError(t, err)
		blog, err := store.CreateFeed(ctx, "Blog", "http://example.org/blog", kahya.ID)
		require.NoError(t, err)

		ff, err := store.CreateFeedFollow(ctx, holgith.ID, news.ID)
		require.NoError(t, err)
		require.Equal(t, "holgith", ff.UserName)
		require.Equal(t, "News", ff.FeedName)

		_, err = store.CreateFeedFollow(ctx, holgith.ID, news.ID)
		var dupErr data.DuplicationError
		require.True(t, errors.As(err, &dupErr), "expected DuplicationError, got %v", err)

		_, err = store.CreateFeedFollow(ctx, holgith.ID, blog.ID)
		require.NoError(t, err)

		follows, err := store.SelectFeedFollowsForUser(ctx, holgith.ID)
		require.NoError(t, err)
		require.Len(t, follows, 2)
		require.Equal(t, "Blog", follows[0].FeedName)
		require.Equal(t, "News", follows[1].FeedName)

		follows, err = store.SelectFeedFollowsForUser(ctx, kahya.ID)
		require.NoError(t, err)
		require.Empty(t, follows)

		require.NoError(t, store.DeleteFeedFollow(ctx, holgith.ID, "http://example.org/news"))
		err = store.DeleteFeedFollow(ctx, holgith.ID, "http://example.org/news")
		require.ErrorIs(t, err, data.ErrNotFound)

		follows, err = store.SelectFeedFollowsForUser(ctx, holgith.ID)
		require.NoError(t, err)
		require.Len(t, follows, 1)
		require.Equal(t, blog.ID, follows[0].FeedID)
	})
}

func TestStorePosts(t *testing.T) {
	forEachStore(t, func(t *testing.T, ctx context.Context, store data.Store) {
		user, err := store.CreateUser(ctx, "kahya")
		require.NoError(t, err)
		feed, err := store.CreateFeed(ctx, "News", "http://example.org/news", user.ID)
		require.NoError(t, err)
		_, err = store.CreateFeedFollow(ctx, user.ID, feed.ID)
		require.NoError(t, err)

		older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		newer := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
		description := "snow"
		posts := []*data.Post{
			{Title: "Older", URL: "http://example.org/older", Description: &description, PublishedAt: &older, FeedID: feed.ID},
			{Title: "Undated", URL: "http://example.org/undated", FeedID: feed.ID},
			{Title: "Newer", URL: "http://example.org/newer", PublishedAt: &newer, FeedID: feed.ID},
		}
		for _, p := range posts {
			require.NoError(t, store.InsertPost(ctx, p))
			require.NotEqual(t, uuid.Nil, p.ID)
		}

		err = store.InsertPost(ctx, &data.Post{Title: "Copy", URL: "http://example.org/older", FeedID: feed.ID})
		var dupErr data.DuplicationError
		require.True(t, errors.As(err, &dupErr), "expected DuplicationError, got %v", err)
		require.Equal(t, "url", dupErr.Field)

		browse, err := store.SelectPostsForUser(ctx, user.ID, 10)
		require.NoError(t, err)
		require.Len(t, browse, 3)
		require.Equal(t, "Newer", browse[0].Title)
		require.Equal(t, "Older", browse[1].Title)
		require.Equal(t, "Undated", browse[2].Title)
		require.Equal(t, "News", browse[0].FeedName)
		require.Equal(t, "snow", *browse[1].Description)
		require.Nil(t, browse[2].PublishedAt)

		browse, err = store.SelectPostsForUser(ctx, user.ID, 1)
		require.NoError(t, err)
		require.Len(t, browse, 1)

		stranger, err := store.CreateUser(ctx, "stranger")
		require.NoError(t, err)
		browse, err = store.SelectPostsForUser(ctx, stranger.ID, 10)
		require.NoError(t, err)
		require.Empty(t, browse)
	})
}

func TestStoreDeleteAllUsers(t *testing.T) {
	forEachStore(t, func(t *testing.T, ctx context.Context, store data.Store) {
		user, err := store.CreateUser(ctx, "kahya")
		require.NoError(t, err)
		feed, err := store.CreateFeed(ctx, "News", "http://example.org/news", user.ID)
		require.NoError(t, err)
		_, err = store.CreateFeedFollow(ctx, user.ID, feed.ID)
		require.NoError(t, err)
		require.NoError(t, store.InsertPost(ctx, &data.Post{Title: "Post", URL: "http://example.org/post", FeedID: feed.ID}))

		require.NoError(t, store.DeleteAllUsers(ctx))

		users, err := store.SelectUsers(ctx)
		require.NoError(t, err)
		require.Empty(t, users)

		feeds, err := store.SelectFeeds(ctx)
		require.NoError(t, err)
		require.Empty(t, feeds)

		_, err = store.SelectNextFeedToFetch(ctx)
		require.ErrorIs(t, err, data.ErrNotFound)

		// The post URL is free again.
		user, err = store.CreateUser(ctx, "kahya")
		require.NoError(t, err)
		feed, err = store.CreateFeed(ctx, "News", "http://example.org/news", user.ID)
		require.NoError(t, err)
		require.NoError(t, store.InsertPost(ctx, &data.Post{Title: "Post", URL: "http://example.org/post", FeedID: feed.ID}))
	})
}

func TestPgxStoreSelectNextFeedToFetchPrefersNeverFetched(t *testing.T) {
	ctx := context.Background()
	pool := newPgxPool(t, ctx)
	store := data.NewPgxStore(pool)

	now := time.Now()
	fetched := testdata.CreateFeed(t, pool, ctx, map[string]any{
		"created_at":      now.Add(-time.Hour),
		"last_fetched_at": now.Add(-time.Minute),
	})
	fresh := testdata.CreateFeed(t, pool, ctx, map[string]any{"created_at": now})

	next, err := store.SelectNextFeedToFetch(ctx)
	require.NoError(t, err)
	require.Equal(t, testdata.ID(t, fresh), next.ID)

	require.NoError(t, store.MarkFeedFetched(ctx, next.ID, now))

	next, err = store.SelectNextFeedToFetch(ctx)
	require.NoError(t, err)
	require.Equal(t, testdata.ID(t, fetched), next.ID)
}

func TestPgxStoreSelectPostsForUserWithFactories(t *testing.T) {
	ctx := context.Background()
	pool := newPgxPool(t, ctx)
	store := data.NewPgxStore(pool)

	user := testdata.CreateUser(t, pool, ctx, nil)
	userID := testdata.ID(t, user)
	feed := testdata.CreateFeed(t, pool, ctx, map[string]any{"user_id": userID})
	feedID := testdata.ID(t, feed)

	_, err := store.CreateFeedFollow(ctx, userID, feedID)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		testdata.CreatePost(t, pool, ctx, map[string]any{
			"feed_id":      feedID,
			"published_at": time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC),
		})
	}

	posts, err := store.SelectPostsForUser(ctx, userID, 2)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	require.True(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC).Equal(*posts[0].PublishedAt))
	require.True(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC).Equal(*posts[1].PublishedAt))
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	pool := newPgxPool(t, ctx)

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	var applied []string
	err = data.Migrate(ctx, conn.Conn(), func(sequence int, name string) {
		applied = append(applied, name)
	})
	require.NoError(t, err)
	require.Empty(t, applied)

	var version int32
	err = conn.QueryRow(ctx, "select version from schema_version").Scan(&version)
	require.NoError(t, err)
	require.EqualValues(t, 4, version)
}
