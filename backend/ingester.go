package backend

import (
	"context"
	"errors"

	"github.com/Nbk-Juno/rss-gator/backend/data"
	"github.com/google/uuid"
	log "gopkg.in/inconshreveable/log15.v2"
)

type ItemOutcome int

const (
	OutcomeSaved ItemOutcome = iota
	OutcomeDuplicate
	OutcomeFailed
)

func (o ItemOutcome) String() string {
	switch o {
	case OutcomeSaved:
		return "saved"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type ItemResult struct {
	Link    string
	Outcome ItemOutcome
	Err     error
}

// IngestReport summarizes one batch. Found always equals
// Saved+Duplicates+Failed.
type IngestReport struct {
	Found      int
	Saved      int
	Duplicates int
	Failed     int
	Results    []ItemResult
}

// Ingester stores feed items as posts. A failure on one item never aborts the
// rest of the batch.
type Ingester struct {
	posts  data.PostStore
	logger log.Logger
}

func NewIngester(posts data.PostStore, logger log.Logger) *Ingester {
	return &Ingester{posts: posts, logger: logger}
}

func (i *Ingester) Ingest(ctx context.Context, feedID uuid.UUID, items []RawFeedItem) IngestReport {
	report := IngestReport{
		Found:   len(items),
		Results: make([]ItemResult, 0, len(items)),
	}

	for _, item := range items {
		result := i.ingestItem(ctx, feedID, item)
		switch result.Outcome {
		case OutcomeSaved:
			report.Saved++
		case OutcomeDuplicate:
			report.Duplicates++
		case OutcomeFailed:
			report.Failed++
		}
		report.Results = append(report.Results, result)
	}

	return report
}

func (i *Ingester) ingestItem(ctx context.Context, feedID uuid.UUID, item RawFeedItem) ItemResult {
	description := item.Description
	post := &data.Post{
		Title:       item.Title,
		URL:         item.Link,
		Description: &description,
		PublishedAt: ParsePublicationTime(item.PubDate),
		FeedID:      feedID,
	}
	if post.PublishedAt == nil {
		i.logger.Debug("unparseable pubDate", "url", item.Link, "pubDate", item.PubDate)
	}

	err := i.posts.InsertPost(ctx, post)
	var dupErr data.DuplicationError
	switch {
	case err == nil:
		return ItemResult{Link: item.Link, Outcome: OutcomeSaved}
	case errors.As(err, &dupErr) && dupErr.Field == "url":
		i.logger.Debug("post already exists", "url", item.Link)
		return ItemResult{Link: item.Link, Outcome: OutcomeDuplicate}
	default:
		i.logger.Error("InsertPost failed", "url", item.Link, "error", err)
		return ItemResult{Link: item.Link, Outcome: OutcomeFailed, Err: err}
	}
}
