package backend

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "gopkg.in/inconshreveable/log15.v2"
)

type tickJSON struct {
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Idle        bool      `json:"idle"`
	FeedName    string    `json:"feed_name,omitempty"`
	FeedURL     string    `json:"feed_url,omitempty"`
	NotModified bool      `json:"not_modified,omitempty"`
	Found       int       `json:"found"`
	Saved       int       `json:"saved"`
	Duplicates  int       `json:"duplicates"`
	Failed      int       `json:"failed"`
	Error       string    `json:"error,omitempty"`
}

type statusJSON struct {
	State    string    `json:"state"`
	Interval string    `json:"interval,omitempty"`
	Ticks    int64     `json:"ticks"`
	LastTick *tickJSON `json:"last_tick"`
}

// NewStatusHandler exposes the state of updater over HTTP.
func NewStatusHandler(updater *FeedUpdater, logger log.Logger) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		status := updater.Status()

		response := statusJSON{State: status.State.String(), Ticks: status.Ticks}
		if status.Interval > 0 {
			response.Interval = FormatInterval(status.Interval)
		}
		if r := status.LastReport; r != nil {
			response.LastTick = &tickJSON{
				StartedAt:   r.StartedAt,
				FinishedAt:  r.FinishedAt,
				Idle:        r.Idle,
				FeedName:    r.FeedName,
				FeedURL:     r.FeedURL,
				NotModified: r.NotModified,
				Found:       r.Found,
				Saved:       r.Saved,
				Duplicates:  r.Duplicates,
				Failed:      r.Failed,
			}
			if r.Err != nil {
				response.LastTick.Error = r.Err.Error()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("encoding status failed", "error", err)
		}
	})

	return router
}
