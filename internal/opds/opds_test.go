package opds

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justyntemme/calibrewebui/internal/models"
)

func testBooks() []models.Book {
	pub := time.Date(1965, 8, 1, 0, 0, 0, 0, time.UTC)
	return []models.Book{
		{ID: 1, Title: "Dune", Authors: "Frank Herbert", Formats: "EPUB,MOBI", Tags: "sci-fi, read", HasCover: true, PubDate: &pub},
		{ID: 4, Title: "Good Omens", Authors: "Terry Pratchett & Neil Gaiman", Formats: "EPUB"},
		{ID: 3, Title: "Children of Dune", Formats: "PDF"},
	}
}

func TestDeviceFeedPicksPreferredFormat(t *testing.T) {
	d := DeviceFeed{
		Device:  &models.Device{UID: "abc", Name: "Kindle", Formats: "mobi,epub"},
		BaseURL: "http://lib.local",
		Page:    1,
		Limit:   10,
	}
	feed := d.Build(testBooks())

	require.Len(t, feed.Entries, 2, "books without a device format are skipped")
	assert.Equal(t, "Kindle", feed.Title)

	dune := feed.Entries[0]
	assert.Equal(t, "urn:calibrewebui:book:1", dune.ID)
	assert.Equal(t, "http://lib.local/opds/abc/books/1/mobi", dune.Links[0].Href)
	assert.Equal(t, "application/x-mobipocket-ebook", dune.Links[0].Type)
	assert.Len(t, dune.Links, 3)
	assert.Equal(t, "1965-08-01", dune.DCIssued)
	assert.Len(t, dune.Categories, 2)

	omens := feed.Entries[1]
	assert.Equal(t, "http://lib.local/opds/abc/books/4/epub", omens.Links[0].Href)
	require.Len(t, omens.Authors, 2)
	assert.Equal(t, "Neil Gaiman", omens.Authors[1].Name)

	for _, l := range feed.Links {
		assert.NotEqual(t, "next", l.Rel)
	}
}

func TestDeviceFeedPagination(t *testing.T) {
	d := DeviceFeed{
		Device:  &models.Device{UID: "abc"},
		BaseURL: "http://lib.local",
		Query:   "dune",
		Page:    2,
		Limit:   3,
	}
	feed := d.Build(testBooks())

	assert.Len(t, feed.Entries, 3)
	links := map[string]string{}
	for _, l := range feed.Links {
		links[l.Rel] = l.Href
	}
	assert.Equal(t, "http://lib.local/opds/abc?page=2&q=dune", links["self"])
	assert.Equal(t, "http://lib.local/opds/abc?page=3&q=dune", links["next"])
	assert.Equal(t, "http://lib.local/opds/abc?q=dune", links["previous"])
}

func TestFeedXML(t *testing.T) {
	d := DeviceFeed{Device: &models.Device{UID: "abc", Formats: "EPUB"}, BaseURL: "http://x"}
	out, err := d.Build(testBooks()).ToXML()
	require.NoError(t, err)

	s := string(out)
	assert.True(t, strings.HasPrefix(s, "<?xml"))
	assert.Contains(t, s, `<title>Good Omens</title>`)
	assert.Contains(t, s, `rel="http://opds-spec.org/acquisition"`)
	assert.NotContains(t, s, "Children of Dune")
}

func TestPickFormat(t *testing.T) {
	assert.Equal(t, "EPUB", pickFormat([]string{"epub", "pdf"}, nil))
	assert.Equal(t, "PDF", pickFormat([]string{"EPUB", "PDF"}, []string{"PDF", "EPUB"}))
	assert.Equal(t, "", pickFormat([]string{"EPUB"}, []string{"MOBI"}))
	assert.Equal(t, "", pickFormat(nil, []string{"MOBI"}))
}

func TestOpenSearchDescription(t *testing.T) {
	doc := OpenSearchDescription("http://x/opds/abc")
	assert.Contains(t, doc, `template="http://x/opds/abc?q={searchTerms}"`)
}
