package data

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// uniqueViolationField maps a PostgreSQL unique violation to the field it
// protects. ok is false for any other error.
func uniqueViolationField(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return "", false
	}

	switch pgErr.ConstraintName {
	case "users_name_key":
		return "name", true
	case "feeds_url_key", "posts_url_key":
		return "url", true
	case "feed_follows_user_id_feed_id_key":
		return "feed", true
	default:
		return pgErr.ConstraintName, true
	}
}
