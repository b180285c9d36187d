package data

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgsql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxStore is the PostgreSQL implementation of Store.
type PgxStore struct {
	pool *pgxpool.Pool
}

func NewPgxStore(pool *pgxpool.Pool) *PgxStore {
	return &PgxStore{pool: pool}
}

func (s *PgxStore) Close() error {
	s.pool.Close()
	return nil
}

const insertUserSQL = `insert into users(id, name) values($1, $2)
returning id, name, created_at, updated_at`

func (s *PgxStore) CreateUser(ctx context.Context, name string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, insertUserSQL, uuid.New(), name).Scan(&u.ID, &u.Name, &u.CreatedAt, &u.UpdatedAt)
	if field, ok := uniqueViolationField(err); ok {
		return nil, DuplicationError{Field: field}
	}
	if err != nil {
		return nil, err
	}

	return &u, nil
}

const selectUserByNameSQL = `select id, name, created_at, updated_at from users where name=$1`

func (s *PgxStore) SelectUserByName(ctx context.Context, name string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, selectUserByNameSQL, name).Scan(&u.ID, &u.Name, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}

	return &u, nil
}

const selectUsersSQL = `select id, name, created_at, updated_at from users order by name`

func (s *PgxStore) SelectUsers(ctx context.Context) ([]User, error) {
	users := make([]User, 0, 8)
	rows, _ := s.pool.Query(ctx, selectUsersSQL)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (s *PgxStore) DeleteAllUsers(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `delete from users`)
	return err
}

const insertFeedSQL = `insert into feeds(id, name, url, user_id) values($1, $2, $3, $4)
returning id, name, url, user_id, last_fetched_at, created_at, updated_at`

func (s *PgxStore) CreateFeed(ctx context.Context, name, url string, userID uuid.UUID) (*Feed, error) {
	feed, err := scanFeed(s.pool.QueryRow(ctx, insertFeedSQL, uuid.New(), name, url, userID))
	if field, ok := uniqueViolationField(err); ok {
		return nil, DuplicationError{Field: field}
	}
	return feed, err
}

const selectFeedByURLSQL = `select id, name, url, user_id, last_fetched_at, created_at, updated_at
from feeds
where url=$1`

func (s *PgxStore) SelectFeedByURL(ctx context.Context, url string) (*Feed, error) {
	return scanFeed(s.pool.QueryRow(ctx, selectFeedByURLSQL, url))
}

const selectFeedsSQL = `select feeds.id, feeds.name, feeds.url, feeds.user_id, feeds.last_fetched_at,
  feeds.created_at, feeds.updated_at, users.name
from feeds
  join users on feeds.user_id=users.id
order by feeds.created_at, feeds.id`

func (s *PgxStore) SelectFeeds(ctx context.Context) ([]FeedWithOwner, error) {
	feeds := make([]FeedWithOwner, 0, 8)
	rows, _ := s.pool.Query(ctx, selectFeedsSQL)
	for rows.Next() {
		var f FeedWithOwner
		err := rows.Scan(&f.ID, &f.Name, &f.URL, &f.UserID, &f.LastFetchedAt, &f.CreatedAt, &f.UpdatedAt, &f.UserName)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}

	return feeds, rows.Err()
}

const selectNextFeedToFetchSQL = `select id, name, url, user_id, last_fetched_at, created_at, updated_at
from feeds
order by last_fetched_at asc nulls first, created_at, id
limit 1`

func (s *PgxStore) SelectNextFeedToFetch(ctx context.Context) (*Feed, error) {
	return scanFeed(s.pool.QueryRow(ctx, selectNextFeedToFetchSQL))
}

const markFeedFetchedSQL = `update feeds set last_fetched_at=$1, updated_at=$1 where id=$2`

func (s *PgxStore) MarkFeedFetched(ctx context.Context, feedID uuid.UUID, fetchTime time.Time) error {
	commandTag, err := s.pool.Exec(ctx, markFeedFetchedSQL, fetchTime, feedID)
	if err != nil {
		return err
	}
	if commandTag.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

const insertFeedFollowSQL = `with ff as (
  insert into feed_follows(id, user_id, feed_id) values($1, $2, $3)
  returning id, user_id, feed_id, created_at, updated_at
)
select ff.id, ff.user_id, ff.feed_id, users.name, feeds.name, ff.created_at, ff.updated_at
from ff
  join users on ff.user_id=users.id
  join feeds on ff.feed_id=feeds.id`

func (s *PgxStore) CreateFeedFollow(ctx context.Context, userID, feedID uuid.UUID) (*FeedFollow, error) {
	var ff FeedFollow
	err := s.pool.QueryRow(ctx, insertFeedFollowSQL, uuid.New(), userID, feedID).Scan(
		&ff.ID, &ff.UserID, &ff.FeedID, &ff.UserName, &ff.FeedName, &ff.CreatedAt, &ff.UpdatedAt,
	)
	if field, ok := uniqueViolationField(err); ok {
		return nil, DuplicationError{Field: field}
	}
	if err != nil {
		return nil, err
	}

	return &ff, nil
}

const selectFeedFollowsForUserSQL = `select ff.id, ff.user_id, ff.feed_id, users.name, feeds.name, ff.created_at, ff.updated_at
from feed_follows ff
  join users on ff.user_id=users.id
  join feeds on ff.feed_id=feeds.id
where ff.user_id=$1
order by feeds.name`

func (s *PgxStore) SelectFeedFollowsForUser(ctx context.Context, userID uuid.UUID) ([]FeedFollow, error) {
	follows := make([]FeedFollow, 0, 8)
	rows, _ := s.pool.Query(ctx, selectFeedFollowsForUserSQL, userID)
	for rows.Next() {
		var ff FeedFollow
		err := rows.Scan(&ff.ID, &ff.UserID, &ff.FeedID, &ff.UserName, &ff.FeedName, &ff.CreatedAt, &ff.UpdatedAt)
		if err != nil {
			return nil, err
		}
		follows = append(follows, ff)
	}

	return follows, rows.Err()
}

const deleteFeedFollowSQL = `delete from feed_follows
using feeds
where feed_follows.feed_id=feeds.id
  and feed_follows.user_id=$1
  and feeds.url=$2`

func (s *PgxStore) DeleteFeedFollow(ctx context.Context, userID uuid.UUID, feedURL string) error {
	commandTag, err := s.pool.Exec(ctx, deleteFeedFollowSQL, userID, feedURL)
	if err != nil {
		return err
	}
	if commandTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const insertPostSQL = `insert into posts(id, title, url, description, published_at, feed_id)
values($1, $2, $3, $4, $5, $6)
returning id, created_at, updated_at`

func (s *PgxStore) InsertPost(ctx context.Context, post *Post) error {
	if post.ID == uuid.Nil {
		post.ID = uuid.New()
	}

	err := s.pool.QueryRow(ctx, insertPostSQL,
		post.ID,
		post.Title,
		post.URL,
		post.Description,
		post.PublishedAt,
		post.FeedID,
	).Scan(&post.ID, &post.CreatedAt, &post.UpdatedAt)
	if field, ok := uniqueViolationField(err); ok {
		return DuplicationError{Field: field}
	}
	return err
}

func (s *PgxStore) SelectPostsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]PostForUser, error) {
	args := pgsql.Args{}
	sql := `select posts.id, posts.title, posts.url, posts.description, posts.published_at, posts.feed_id,
  posts.created_at, posts.updated_at, feeds.name
from posts
  join feeds on posts.feed_id=feeds.id
  join feed_follows on feeds.id=feed_follows.feed_id
where feed_follows.user_id=` + args.Use(userID).String() + `
order by posts.published_at desc nulls last, posts.created_at desc
limit ` + args.Use(limit).String()

	posts := make([]PostForUser, 0, limit)
	rows, _ := s.pool.Query(ctx, sql, args.Values()...)
	for rows.Next() {
		var p PostForUser
		err := rows.Scan(&p.ID, &p.Title, &p.URL, &p.Description, &p.PublishedAt, &p.FeedID, &p.CreatedAt, &p.UpdatedAt, &p.FeedName)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}

	return posts, rows.Err()
}

func scanFeed(row pgx.Row) (*Feed, error) {
	var f Feed
	err := row.Scan(&f.ID, &f.Name, &f.URL, &f.UserID, &f.LastFetchedAt, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}

	return &f, nil
}
