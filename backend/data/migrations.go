package data

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/tern/v2/migrate"
)

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{"Create users", `
    create table users(
      id uuid primary key,
      name text not null unique check(name<>''),
      created_at timestamptz not null default now(),
      updated_at timestamptz not null default now()
    );
  `},
	{"Create feeds", `
    create table feeds(
      id uuid primary key,
      name text not null,
      url text not null unique check(url<>''),
      user_id uuid not null references users on delete cascade,
      last_fetched_at timestamptz,
      created_at timestamptz not null default now(),
      updated_at timestamptz not null default now()
    );

    create index on feeds (last_fetched_at nulls first, created_at);
  `},
	{"Create feed_follows", `
    create table feed_follows(
      id uuid primary key,
      user_id uuid not null references users on delete cascade,
      feed_id uuid not null references feeds on delete cascade,
      created_at timestamptz not null default now(),
      updated_at timestamptz not null default now(),
      unique(user_id, feed_id)
    );

    create index on feed_follows (feed_id);
  `},
	{"Create posts", `
    create table posts(
      id uuid primary key,
      title text not null,
      url text not null unique,
      description text,
      published_at timestamptz,
      feed_id uuid not null references feeds on delete cascade,
      created_at timestamptz not null default now(),
      updated_at timestamptz not null default now()
    );

    create index on posts (feed_id);
    create index on posts (published_at desc nulls last);
  `},
}

// Migrate brings the database schema up to date. onStart, when not nil, is
// called before each migration that is applied.
func Migrate(ctx context.Context, conn *pgx.Conn, onStart func(sequence int, name string)) error {
	m, err := migrate.NewMigrator(ctx, conn, "schema_version")
	if err != nil {
		return err
	}

	if onStart != nil {
		m.OnStart = func(sequence int32, name, direction, sql string) {
			onStart(int(sequence), name)
		}
	}

	for _, mig := range migrations {
		m.AppendMigration(mig.name, mig.sql, "")
	}

	return m.Migrate(ctx)
}
