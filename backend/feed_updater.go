package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Nbk-Juno/rss-gator/backend/data"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	log "gopkg.in/inconshreveable/log15.v2"
)

const DefaultStopTimeout = 30 * time.Second

// Fetcher retrieves and parses the feed document at url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*ParsedFeed, error)
}

type UpdaterState int

const (
	StateIdle UpdaterState = iota
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s UpdaterState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// TickReport describes what a single tick did.
type TickReport struct {
	StartedAt  time.Time
	FinishedAt time.Time

	// Idle is set when there was no feed to refresh.
	Idle bool

	FeedID      uuid.UUID
	FeedName    string
	FeedURL     string
	NotModified bool

	Found      int
	Saved      int
	Duplicates int
	Failed     int

	Err error
}

type UpdaterStatus struct {
	State      UpdaterState
	Interval   time.Duration
	Ticks      int64
	LastReport *TickReport
}

// FeedUpdater refreshes the least recently fetched feed once per interval.
// Ticks never overlap. When a tick runs longer than the interval, the next
// one is rescheduled rather than started concurrently.
type FeedUpdater struct {
	feeds    data.FeedStore
	fetcher  Fetcher
	ingester *Ingester
	logger   log.Logger
	now      func() time.Time

	StopTimeout time.Duration

	mu         sync.Mutex
	state      UpdaterState
	interval   time.Duration
	scheduler  gocron.Scheduler
	ticks      int64
	lastReport *TickReport
}

func NewFeedUpdater(feeds data.FeedStore, posts data.PostStore, fetcher Fetcher, logger log.Logger) *FeedUpdater {
	feedUpdater := &FeedUpdater{}
	feedUpdater.feeds = feeds
	feedUpdater.fetcher = fetcher
	feedUpdater.ingester = NewIngester(posts, logger.New("module", "ingester"))
	feedUpdater.logger = logger
	feedUpdater.now = time.Now
	feedUpdater.StopTimeout = DefaultStopTimeout
	return feedUpdater
}

// Start schedules a tick immediately and then every interval. It may only be
// called once.
func (u *FeedUpdater) Start(interval time.Duration) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != StateIdle {
		return fmt.Errorf("cannot start feed updater: %s", u.state)
	}
	if interval <= 0 {
		return fmt.Errorf("cannot start feed updater: interval must be positive, got %v", interval)
	}

	stopTimeout := u.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}

	scheduler, err := gocron.NewScheduler(
		gocron.WithStopTimeout(stopTimeout),
		gocron.WithLogger(u.logger.New("module", "scheduler")),
	)
	if err != nil {
		return err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(u.runTick),
		gocron.WithName("Refresh next feed"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		scheduler.Shutdown()
		return err
	}

	u.scheduler = scheduler
	u.interval = interval
	u.state = StateRunning
	scheduler.Start()

	u.logger.Debug("feed updater started", "interval", interval)
	return nil
}

// Stop prevents any further ticks and waits for an in-flight tick to finish,
// up to StopTimeout. A tick still running after StopTimeout is abandoned.
// Stopping an updater that was never started moves it straight to stopped.
func (u *FeedUpdater) Stop() error {
	u.mu.Lock()
	switch u.state {
	case StateIdle:
		u.state = StateStopped
		u.mu.Unlock()
		return nil
	case StateShuttingDown, StateStopped:
		u.mu.Unlock()
		return nil
	}
	u.state = StateShuttingDown
	scheduler := u.scheduler
	u.mu.Unlock()

	err := scheduler.Shutdown()

	u.mu.Lock()
	u.state = StateStopped
	u.mu.Unlock()

	if errors.Is(err, gocron.ErrStopJobsTimedOut) {
		u.logger.Warn("in-flight tick abandoned", "stopTimeout", u.StopTimeout)
		return nil
	}
	if err != nil {
		u.logger.Error("scheduler shutdown failed", "error", err)
		return err
	}
	u.logger.Info("feed updater stopped")
	return nil
}

func (u *FeedUpdater) State() UpdaterState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func (u *FeedUpdater) Status() UpdaterStatus {
	u.mu.Lock()
	defer u.mu.Unlock()

	status := UpdaterStatus{State: u.state, Interval: u.interval, Ticks: u.ticks}
	if u.lastReport != nil {
		report := *u.lastReport
		status.LastReport = &report
	}
	return status
}

func (u *FeedUpdater) runTick() {
	defer func() {
		if r := recover(); r != nil {
			u.logger.Error("tick panicked", "panic", r)
		}
	}()

	u.Tick(context.Background())
}

// Tick refreshes the next feed due. The feed is marked as fetched before the
// request is made so a failing feed does not block the rest of the rotation.
func (u *FeedUpdater) Tick(ctx context.Context) (report TickReport) {
	report.StartedAt = u.now()
	defer func() {
		report.FinishedAt = u.now()
		u.recordTick(report)
	}()

	feed, err := u.feeds.SelectNextFeedToFetch(ctx)
	if errors.Is(err, data.ErrNotFound) {
		u.logger.Info("no feeds to fetch")
		report.Idle = true
		return report
	} else if err != nil {
		u.logger.Error("SelectNextFeedToFetch failed", "error", err)
		report.Err = err
		return report
	}

	report.FeedID = feed.ID
	report.FeedName = feed.Name
	report.FeedURL = feed.URL

	err = u.feeds.MarkFeedFetched(ctx, feed.ID, u.now())
	if err != nil {
		u.logger.Error("MarkFeedFetched failed", "url", feed.URL, "error", err)
		report.Err = err
		return report
	}

	u.logger.Info("fetching feed", "name", feed.Name, "url", feed.URL)
	parsed, err := u.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		u.logger.Error("fetchFeed failed", "url", feed.URL, "error", err)
		report.Err = err
		return report
	}

	if parsed.NotModified {
		u.logger.Info("fetchFeed 304 unchanged", "url", feed.URL)
		report.NotModified = true
		return report
	}

	ingest := u.ingester.Ingest(ctx, feed.ID, parsed.Items)
	report.Found = ingest.Found
	report.Saved = ingest.Saved
	report.Duplicates = ingest.Duplicates
	report.Failed = ingest.Failed

	u.logger.Info("refreshFeed succeeded",
		"name", feed.Name,
		"url", feed.URL,
		"found", ingest.Found,
		"saved", ingest.Saved,
		"duplicates", ingest.Duplicates,
		"failed", ingest.Failed,
	)

	return report
}

func (u *FeedUpdater) recordTick(report TickReport) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ticks++
	u.lastReport = &report
}
