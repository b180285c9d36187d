package data

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type userRow struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	Name      string    `gorm:"not null;uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (userRow) TableName() string { return "users" }

type feedRow struct {
	ID            uuid.UUID  `gorm:"type:text;primaryKey"`
	Name          string     `gorm:"not null"`
	URL           string     `gorm:"not null;uniqueIndex"`
	UserID        uuid.UUID  `gorm:"type:text;not null;index"`
	User          userRow    `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	LastFetchedAt *time.Time `gorm:"index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (feedRow) TableName() string { return "feeds" }

type feedFollowRow struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	UserID    uuid.UUID `gorm:"type:text;not null;uniqueIndex:feed_follows_user_feed"`
	User      userRow   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	FeedID    uuid.UUID `gorm:"type:text;not null;uniqueIndex:feed_follows_user_feed"`
	Feed      feedRow   `gorm:"foreignKey:FeedID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (feedFollowRow) TableName() string { return "feed_follows" }

type postRow struct {
	ID          uuid.UUID  `gorm:"type:text;primaryKey"`
	Title       string     `gorm:"not null"`
	URL         string     `gorm:"not null;uniqueIndex"`
	Description *string
	PublishedAt *time.Time `gorm:"index"`
	FeedID      uuid.UUID  `gorm:"type:text;not null;index"`
	Feed        feedRow    `gorm:"foreignKey:FeedID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (postRow) TableName() string { return "posts" }

// GormStore is the embedded SQLite implementation of Store. It is meant for
// single-user setups and for tests that should not need a PostgreSQL server.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens (creating if needed) the SQLite database at path and
// migrates its schema. Use ":memory:" for a throwaway database.
func NewGormStore(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite pragmas are per connection and an in-memory database only exists
	// on the connection that created it.
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, err
	}

	err = db.AutoMigrate(&userRow{}, &feedRow{}, &feedFollowRow{}, &postRow{})
	if err != nil {
		return nil, err
	}

	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isGormDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		(err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed"))
}

func gormNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) CreateUser(ctx context.Context, name string) (*User, error) {
	row := userRow{ID: uuid.New(), Name: name}
	err := s.db.WithContext(ctx).Create(&row).Error
	if isGormDuplicate(err) {
		return nil, DuplicationError{Field: "name"}
	}
	if err != nil {
		return nil, err
	}

	u := User(row)
	return &u, nil
}

func (s *GormStore) SelectUserByName(ctx context.Context, name string) (*User, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if err != nil {
		return nil, gormNotFound(err)
	}

	u := User(row)
	return &u, nil
}

func (s *GormStore) SelectUsers(ctx context.Context) ([]User, error) {
	var rows []userRow
	err := s.db.WithContext(ctx).Order("name").Find(&rows).Error
	if err != nil {
		return nil, err
	}

	users := make([]User, len(rows))
	for i, r := range rows {
		users[i] = User(r)
	}
	return users, nil
}

func (s *GormStore) DeleteAllUsers(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&postRow{}, &feedFollowRow{}, &feedRow{}, &userRow{}} {
			if err := tx.Where("1 = 1").Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *feedRow) toFeed() *Feed {
	return &Feed{
		ID:            r.ID,
		Name:          r.Name,
		URL:           r.URL,
		UserID:        r.UserID,
		LastFetchedAt: r.LastFetchedAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (s *GormStore) CreateFeed(ctx context.Context, name, url string, userID uuid.UUID) (*Feed, error) {
	row := feedRow{ID: uuid.New(), Name: name, URL: url, UserID: userID}
	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error
	if isGormDuplicate(err) {
		return nil, DuplicationError{Field: "url"}
	}
	if err != nil {
		return nil, err
	}

	return row.toFeed(), nil
}

func (s *GormStore) SelectFeedByURL(ctx context.Context, url string) (*Feed, error) {
	var row feedRow
	err := s.db.WithContext(ctx).Where("url = ?", url).First(&row).Error
	if err != nil {
		return nil, gormNotFound(err)
	}
	return row.toFeed(), nil
}

type feedWithOwnerRow struct {
	ID            uuid.UUID
	Name          string
	URL           string
	UserID        uuid.UUID
	LastFetchedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	UserName      string
}

func (s *GormStore) SelectFeeds(ctx context.Context) ([]FeedWithOwner, error) {
	var rows []feedWithOwnerRow
	err := s.db.WithContext(ctx).
		Table("feeds").
		Select("feeds.id, feeds.name, feeds.url, feeds.user_id, feeds.last_fetched_at, feeds.created_at, feeds.updated_at, users.name as user_name").
		Joins("join users on users.id = feeds.user_id").
		Order("feeds.created_at").
		Order("feeds.id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	feeds := make([]FeedWithOwner, len(rows))
	for i, r := range rows {
		feeds[i] = FeedWithOwner{
			Feed: Feed{
				ID:            r.ID,
				Name:          r.Name,
				URL:           r.URL,
				UserID:        r.UserID,
				LastFetchedAt: r.LastFetchedAt,
				CreatedAt:     r.CreatedAt,
				UpdatedAt:     r.UpdatedAt,
			},
			UserName: r.UserName,
		}
	}
	return feeds, nil
}

func (s *GormStore) SelectNextFeedToFetch(ctx context.Context) (*Feed, error) {
	var row feedRow
	err := s.db.WithContext(ctx).
		Order("last_fetched_at is not null").
		Order("last_fetched_at").
		Order("created_at").
		Order("id").
		First(&row).Error
	if err != nil {
		return nil, gormNotFound(err)
	}
	return row.toFeed(), nil
}

func (s *GormStore) MarkFeedFetched(ctx context.Context, feedID uuid.UUID, fetchTime time.Time) error {
	fetchTime = fetchTime.UTC()
	result := s.db.WithContext(ctx).
		Model(&feedRow{}).
		Where("id = ?", feedID).
		UpdateColumns(map[string]any{"last_fetched_at": fetchTime, "updated_at": fetchTime})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		return ErrNotFound
	}
	return nil
}

type feedFollowJoinRow struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	FeedID    uuid.UUID
	UserName  string
	FeedName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r feedFollowJoinRow) toFeedFollow() FeedFollow {
	return FeedFollow(r)
}

func (s *GormStore) selectFeedFollows(ctx context.Context, where string, arg any) ([]FeedFollow, error) {
	var rows []feedFollowJoinRow
	err := s.db.WithContext(ctx).
		Table("feed_follows").
		Select("feed_follows.id, feed_follows.user_id, feed_follows.feed_id, users.name as user_name, feeds.name as feed_name, feed_follows.created_at, feed_follows.updated_at").
		Joins("join users on users.id = feed_follows.user_id").
		Joins("join feeds on feeds.id = feed_follows.feed_id").
		Where(where, arg).
		Order("feeds.name").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	follows := make([]FeedFollow, len(rows))
	for i, r := range rows {
		follows[i] = r.toFeedFollow()
	}
	return follows, nil
}

func (s *GormStore) CreateFeedFollow(ctx context.Context, userID, feedID uuid.UUID) (*FeedFollow, error) {
	row := feedFollowRow{ID: uuid.New(), UserID: userID, FeedID: feedID}
	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error
	if isGormDuplicate(err) {
		return nil, DuplicationError{Field: "feed"}
	}
	if err != nil {
		return nil, err
	}

	follows, err := s.selectFeedFollows(ctx, "feed_follows.id = ?", row.ID)
	if err != nil {
		return nil, err
	}
	if len(follows) != 1 {
		return nil, ErrNotFound
	}
	return &follows[0], nil
}

func (s *GormStore) SelectFeedFollowsForUser(ctx context.Context, userID uuid.UUID) ([]FeedFollow, error) {
	return s.selectFeedFollows(ctx, "feed_follows.user_id = ?", userID)
}

func (s *GormStore) DeleteFeedFollow(ctx context.Context, userID uuid.UUID, feedURL string) error {
	result := s.db.WithContext(ctx).
		Where("user_id = ? and feed_id in (select id from feeds where url = ?)", userID, feedURL).
		Delete(&feedFollowRow{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) InsertPost(ctx context.Context, post *Post) error {
	if post.ID == uuid.Nil {
		post.ID = uuid.New()
	}

	row := postRow{
		ID:          post.ID,
		Title:       post.Title,
		URL:         post.URL,
		Description: post.Description,
		PublishedAt: post.PublishedAt,
		FeedID:      post.FeedID,
	}
	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error
	if isGormDuplicate(err) {
		return DuplicationError{Field: "url"}
	}
	if err != nil {
		return err
	}

	post.CreatedAt = row.CreatedAt
	post.UpdatedAt = row.UpdatedAt
	return nil
}

type postForUserRow struct {
	ID          uuid.UUID
	Title       string
	URL         string
	Description *string
	PublishedAt *time.Time
	FeedID      uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FeedName    string
}

func (s *GormStore) SelectPostsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]PostForUser, error) {
	var rows []postForUserRow
	err := s.db.WithContext(ctx).
		Table("posts").
		Select("posts.id, posts.title, posts.url, posts.description, posts.published_at, posts.feed_id, posts.created_at, posts.updated_at, feeds.name as feed_name").
		Joins("join feeds on feeds.id = posts.feed_id").
		Joins("join feed_follows on feed_follows.feed_id = feeds.id").
		Where("feed_follows.user_id = ?", userID).
		Order("posts.published_at is null").
		Order("posts.published_at desc").
		Order("posts.created_at desc").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	posts := make([]PostForUser, len(rows))
	for i, r := range rows {
		posts[i] = PostForUser{
			Post: Post{
				ID:          r.ID,
				Title:       r.Title,
				URL:         r.URL,
				Description: r.Description,
				PublishedAt: r.PublishedAt,
				FeedID:      r.FeedID,
				CreatedAt:   r.CreatedAt,
				UpdatedAt:   r.UpdatedAt,
			},
			FeedName: r.FeedName,
		}
	}
	return posts, nil
}
