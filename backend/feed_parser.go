package backend

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

var ErrInvalidFeed = errors.New("invalid RSS feed")

// RawFeedItem is one validated <item> of a feed. PubDate is kept as the raw
// string; interpreting it is up to the ingester.
type RawFeedItem struct {
	Title       string
	Link        string
	Description string
	PubDate     string
}

type ParsedFeed struct {
	Title       string
	Link        string
	Description string
	Items       []RawFeedItem

	// NotModified is set when the server answered a conditional request with
	// 304. Such a feed has no items.
	NotModified bool
}

// textElement captures one occurrence of an element that is expected to hold
// plain text.
type textElement struct {
	XMLName  xml.Name
	Text     string     `xml:",chardata"`
	Children []xml.Name `xml:",any"`
}

// onlyText returns the trimmed text of the single un-namespaced occurrence
// in elements. ok is false when the element is absent, empty, repeated or
// contains child elements.
func onlyText(elements []textElement) (text string, ok bool) {
	var found *textElement
	for i := range elements {
		if elements[i].XMLName.Space != "" {
			continue
		}
		if found != nil {
			return "", false
		}
		found = &elements[i]
	}

	if found == nil || len(found.Children) > 0 {
		return "", false
	}

	text = strings.TrimSpace(found.Text)
	return text, text != ""
}

type rssItem struct {
	Title       []textElement `xml:"title"`
	Link        []textElement `xml:"link"`
	Description []textElement `xml:"description"`
	PubDate     []textElement `xml:"pubDate"`
}

func (i *rssItem) validate() (RawFeedItem, error) {
	var item RawFeedItem
	var ok bool

	if item.Title, ok = onlyText(i.Title); !ok {
		return item, errors.New("missing or invalid title")
	}
	if item.Link, ok = onlyText(i.Link); !ok {
		return item, errors.New("missing or invalid link")
	}
	if item.Description, ok = onlyText(i.Description); !ok {
		return item, errors.New("missing or invalid description")
	}
	if item.PubDate, ok = onlyText(i.PubDate); !ok {
		return item, errors.New("missing or invalid pubDate")
	}

	return item, nil
}

type rssChannel struct {
	Title       []textElement `xml:"title"`
	Link        []textElement `xml:"link"`
	Description []textElement `xml:"description"`
	Item        []rssItem     `xml:"item"`
}

// parseRSS parses an RSS 2.0 document. A channel without title, link or
// description fails the whole document. Items failing validation are
// passed to onDrop, when not nil, and left out of the result.
func parseRSS(body []byte, onDrop func(index int, err error)) (*ParsedFeed, error) {
	var rss struct {
		XMLName xml.Name
		Channel []rssChannel `xml:"channel"`
	}

	err := ParseXML(bytes.NewReader(body), &rss)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFeed, err)
	}

	if rss.XMLName.Local != "rss" || len(rss.Channel) == 0 {
		return nil, fmt.Errorf("%w: missing channel", ErrInvalidFeed)
	}
	channel := rss.Channel[0]

	var feed ParsedFeed
	var titleOK, linkOK, descriptionOK bool
	feed.Title, titleOK = onlyText(channel.Title)
	feed.Link, linkOK = onlyText(channel.Link)
	feed.Description, descriptionOK = onlyText(channel.Description)
	if !titleOK || !linkOK || !descriptionOK {
		return nil, fmt.Errorf("%w: missing required channel fields", ErrInvalidFeed)
	}

	feed.Items = make([]RawFeedItem, 0, len(channel.Item))
	for i := range channel.Item {
		item, err := channel.Item[i].validate()
		if err != nil {
			if onDrop != nil {
				onDrop(i, err)
			}
			continue
		}
		feed.Items = append(feed.Items, item)
	}

	return &feed, nil
}

// ParseXML decodes the document in r laxly: non-UTF-8 encodings are
// converted and HTML entities are accepted.
func ParseXML(r io.Reader, doc interface{}) error {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charset.NewReaderLabel

	decoder.Entity = xml.HTMLEntity

	return decoder.Decode(doc)
}
