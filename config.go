package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Nbk-Juno/rss-gator/backend"
	"github.com/Nbk-Juno/rss-gator/backend/data"
	log15adapter "github.com/jackc/pgx-log15"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/vaughan0/go-ini"
	log "gopkg.in/inconshreveable/log15.v2"
)

const (
	defaultConfigPath  = "~/.gator.conf"
	defaultSessionPath = "~/.gator_session"
)

// expandPath replaces a leading ~ with the home directory and makes the
// result absolute.
func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}

	return filepath.Abs(path)
}

func loadConfig(path string) (ini.File, error) {
	path, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := ini.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	return file, nil
}

func newLogger(conf ini.File) (log.Logger, error) {
	level, _ := conf.Get("log", "level")
	if level == "" {
		level = "info"
	}

	logger := log.New()
	err := setFilterHandler(level, logger, log.StdoutHandler)
	if err != nil {
		return nil, err
	}

	return logger, nil
}

func setFilterHandler(level string, logger log.Logger, handler log.Handler) error {
	if level == "none" {
		logger.SetHandler(log.DiscardHandler())
		return nil
	}

	lvl, err := log.LvlFromString(level)
	if err != nil {
		return fmt.Errorf("bad log level: %w", err)
	}
	logger.SetHandler(log.LvlFilterHandler(lvl, handler))

	return nil
}

func newStore(ctx context.Context, conf ini.File, logger log.Logger) (data.Store, error) {
	url, _ := conf.Get("database", "url")
	if url == "" {
		return nil, errors.New("config must contain database.url but it does not")
	}

	driver, _ := conf.Get("database", "driver")
	switch driver {
	case "", "postgres":
		pool, err := newPool(ctx, conf, url, logger)
		if err != nil {
			return nil, err
		}
		return data.NewPgxStore(pool), nil
	case "sqlite":
		return data.NewGormStore(url)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

func newPool(ctx context.Context, conf ini.File, url string, logger log.Logger) (*pgxpool.Pool, error) {
	pgxLogger := logger.New("module", "pgx")
	pgxLevel, _ := conf.Get("log", "pgx_level")
	if pgxLevel == "" {
		pgxLevel = "warn"
	}

	traceLevel := tracelog.LogLevelNone
	if pgxLevel != "none" {
		if err := setFilterHandler(pgxLevel, pgxLogger, log.StdoutHandler); err != nil {
			return nil, err
		}
		var err error
		traceLevel, err = tracelog.LogLevelFromString(pgxLevel)
		if err != nil {
			return nil, fmt.Errorf("bad pgx log level: %w", err)
		}
	}

	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid database.url: %w", err)
	}
	config.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   log15adapter.NewLogger(pgxLogger),
		LogLevel: traceLevel,
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}
	defer conn.Release()

	err = data.Migrate(ctx, conn.Conn(), func(sequence int, name string) {
		logger.Info("migrating", "sequence", sequence, "name", name)
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

type aggConfig struct {
	fetcher       backend.FetcherConfig
	stopTimeout   time.Duration
	statusAddress string
}

func loadAggConfig(conf ini.File) (aggConfig, error) {
	config := aggConfig{
		fetcher: backend.FetcherConfig{
			UserAgent: backend.DefaultUserAgent,
			Timeout:   backend.DefaultFetchTimeout,
			ETagTTL:   time.Hour,
		},
		stopTimeout: backend.DefaultStopTimeout,
	}

	if s, ok := conf.Get("agg", "user_agent"); ok && s != "" {
		config.fetcher.UserAgent = s
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"fetch_timeout", &config.fetcher.Timeout},
		{"etag_ttl", &config.fetcher.ETagTTL},
		{"stop_timeout", &config.stopTimeout},
	}
	for _, d := range durations {
		s, ok := conf.Get("agg", d.key)
		if !ok || s == "" {
			continue
		}
		v, err := backend.ParseInterval(s)
		if err != nil {
			return config, fmt.Errorf("agg.%s: %w", d.key, err)
		}
		*d.dst = v
	}

	config.statusAddress, _ = conf.Get("agg", "status_address")

	return config, nil
}

func sessionPath(conf ini.File) (string, error) {
	path, _ := conf.Get("session", "path")
	if path == "" {
		path = defaultSessionPath
	}
	return expandPath(path)
}
