package main

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Nbk-Juno/rss-gator/backend"
	"github.com/Nbk-Juno/rss-gator/backend/data"
	"github.com/google/uuid"
	"github.com/urfave/cli"
)

type OpmlDocument struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    OpmlHead `xml:"head"`
	Body    OpmlBody `xml:"body"`
}

type OpmlHead struct {
	Title string `xml:"title"`
}

type OpmlBody struct {
	Outlines []OpmlOutline `xml:"outline"`
}

type OpmlOutline struct {
	Text     string        `xml:"text,attr"`
	Title    string        `xml:"title,attr,omitempty"`
	Type     string        `xml:"type,attr,omitempty"`
	URL      string        `xml:"xmlUrl,attr,omitempty"`
	Outlines []OpmlOutline `xml:"outline"`
}

// feedOutlines flattens category outlines into the feeds they contain.
func feedOutlines(outlines []OpmlOutline) []OpmlOutline {
	var feeds []OpmlOutline
	for _, o := range outlines {
		if o.URL != "" {
			feeds = append(feeds, o)
		}
		feeds = append(feeds, feedOutlines(o.Outlines)...)
	}
	return feeds
}

func (o OpmlOutline) name() string {
	switch {
	case o.Title != "":
		return o.Title
	case o.Text != "":
		return o.Text
	default:
		return o.URL
	}
}

// ImportOPML follows every feed in an OPML file, adding the feeds that are
// not known yet.
func ImportOPML(c *cli.Context, env *environment, user *data.User) error {
	if len(c.Args()) != 1 {
		return usageError(c)
	}

	file, err := os.Open(c.Args().First())
	if err != nil {
		return err
	}
	defer file.Close()

	var doc OpmlDocument
	err = backend.ParseXML(file, &doc)
	if err != nil {
		return fmt.Errorf("error parsing OPML file: %w", err)
	}

	ctx := context.Background()
	var followed, failed int
	for _, outline := range feedOutlines(doc.Body.Outlines) {
		err := importOutline(ctx, env.store, user, outline)
		var dupErr data.DuplicationError
		switch {
		case err == nil:
			followed++
			fmt.Fprintf(env.out, "+ %s (%s)\n", outline.name(), outline.URL)
		case errors.As(err, &dupErr):
			fmt.Fprintf(env.out, "= %s (already following)\n", outline.name())
		default:
			failed++
			env.logger.Error("import feed failed", "url", outline.URL, "error", err)
			fmt.Fprintf(env.out, "! %s: %v\n", outline.name(), err)
		}
	}

	fmt.Fprintf(env.out, "Imported %d feeds, %d failed\n", followed, failed)
	return nil
}

func importOutline(ctx context.Context, store data.Store, user *data.User, outline OpmlOutline) error {
	feed, err := store.SelectFeedByURL(ctx, outline.URL)
	if errors.Is(err, data.ErrNotFound) {
		feed, err = store.CreateFeed(ctx, outline.name(), outline.URL, user.ID)
	}
	if err != nil {
		return err
	}

	_, err = store.CreateFeedFollow(ctx, user.ID, feed.ID)
	return err
}

// ExportOPML writes the feeds the user follows as an OPML document.
func ExportOPML(c *cli.Context, env *environment, user *data.User) error {
	ctx := context.Background()

	follows, err := env.store.SelectFeedFollowsForUser(ctx, user.ID)
	if err != nil {
		return err
	}
	followed := make(map[uuid.UUID]bool, len(follows))
	for _, ff := range follows {
		followed[ff.FeedID] = true
	}

	feeds, err := env.store.SelectFeeds(ctx)
	if err != nil {
		return err
	}

	doc := OpmlDocument{Version: "1.0"}
	doc.Head.Title = "gator export for " + user.Name

	for _, f := range feeds {
		if !followed[f.ID] {
			continue
		}
		doc.Body.Outlines = append(doc.Body.Outlines, OpmlOutline{
			Text:  f.Name,
			Title: f.Name,
			Type:  "rss",
			URL:   f.URL,
		})
	}

	return writeOPML(env.out, doc)
}

func writeOPML(w io.Writer, doc OpmlDocument) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
