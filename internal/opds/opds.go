package opds

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/justyntemme/calibrewebui/internal/models"
)

const (
	// OPDS Link Relations
	OPDSLinkRelAcquisition = "http://opds-spec.org/acquisition"
	OPDSLinkRelImage       = "http://opds-spec.org/image"
	OPDSLinkRelThumbnail   = "http://opds-spec.org/image/thumbnail"
	OPDSLinkRelSearch      = "search"

	// OPDS Content Types
	OPDSCatalogType = "application/atom+xml;profile=opds-catalog;kind=navigation"
	OPDSFeedType    = "application/atom+xml;profile=opds-catalog;kind=acquisition"
	OPDSSearchType  = "application/opensearchdescription+xml"

	feedAuthor = "Calibre Web UI"
)

// Feed represents an OPDS Atom feed
type Feed struct {
	XMLName   xml.Name  `xml:"feed"`
	Xmlns     string    `xml:"xmlns,attr"`
	XmlnsDC   string    `xml:"xmlns:dc,attr,omitempty"`
	XmlnsOpds string    `xml:"xmlns:opds,attr,omitempty"`
	ID        string    `xml:"id"`
	Title     string    `xml:"title"`
	Updated   time.Time `xml:"updated"`
	Author    *Author   `xml:"author,omitempty"`
	Links     []Link    `xml:"link"`
	Entries   []Entry   `xml:"entry"`
}

// Entry represents an OPDS feed entry
type Entry struct {
	ID         string     `xml:"id"`
	Title      string     `xml:"title"`
	Updated    time.Time  `xml:"updated"`
	Authors    []Author   `xml:"author"`
	Summary    *Summary   `xml:"summary,omitempty"`
	Categories []Category `xml:"category"`
	Links      []Link     `xml:"link"`

	DCIssued string `xml:"dc:issued,omitempty"`
}

// Author represents an Atom author element
type Author struct {
	Name string `xml:"name"`
}

// Link represents an Atom link element
type Link struct {
	Rel   string `xml:"rel,attr,omitempty"`
	Href  string `xml:"href,attr"`
	Type  string `xml:"type,attr,omitempty"`
	Title string `xml:"title,attr,omitempty"`
}

// Summary represents a summary element
type Summary struct {
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// Category carries one tag of a book
type Category struct {
	Term  string `xml:"term,attr"`
	Label string `xml:"label,attr,omitempty"`
}

// DeviceFeed builds the acquisition feed a registered device polls.
// Each entry links the first of the device's formats the book has.
type DeviceFeed struct {
	Device  *models.Device
	BaseURL string
	Query   string
	Page    int
	Limit   int
}

func (d DeviceFeed) feedURL(page int) string {
	v := url.Values{}
	if d.Query != "" {
		v.Set("q", d.Query)
	}
	if page > 1 {
		v.Set("page", fmt.Sprint(page))
	}
	u := fmt.Sprintf("%s/opds/%s", d.BaseURL, d.Device.UID)
	if len(v) > 0 {
		u += "?" + v.Encode()
	}
	return u
}

// Build renders books into a feed. A full page gets a "next" link.
func (d DeviceFeed) Build(books []models.Book) *Feed {
	page := d.Page
	if page < 1 {
		page = 1
	}
	title := d.Device.Name
	if title == "" {
		title = d.Device.UID
	}

	feed := &Feed{
		Xmlns:     "http://www.w3.org/2005/Atom",
		XmlnsDC:   "http://purl.org/dc/terms/",
		XmlnsOpds: "http://opds-spec.org/2010/catalog",
		ID:        "urn:calibrewebui:device:" + d.Device.UID,
		Title:     title,
		Updated:   time.Now().UTC(),
		Author:    &Author{Name: feedAuthor},
		Links: []Link{
			{Rel: "self", Href: d.feedURL(page), Type: OPDSFeedType},
			{Rel: "start", Href: d.feedURL(1), Type: OPDSFeedType},
			{Rel: OPDSLinkRelSearch, Href: fmt.Sprintf("%s/opds/%s/search.xml", d.BaseURL, d.Device.UID), Type: OPDSSearchType},
		},
		Entries: []Entry{},
	}
	if page > 1 {
		feed.Links = append(feed.Links, Link{Rel: "previous", Href: d.feedURL(page - 1), Type: OPDSFeedType})
	}
	if d.Limit > 0 && len(books) == d.Limit {
		feed.Links = append(feed.Links, Link{Rel: "next", Href: d.feedURL(page + 1), Type: OPDSFeedType})
	}

	preferred := d.Device.FormatList()
	for i := range books {
		format := pickFormat(books[i].FormatList(), preferred)
		if format == "" {
			continue
		}
		feed.Entries = append(feed.Entries, d.entry(&books[i], format))
	}
	return feed
}

func (d DeviceFeed) entry(book *models.Book, format string) Entry {
	downloadURL := fmt.Sprintf("%s/opds/%s/books/%d/%s", d.BaseURL, d.Device.UID, book.ID, strings.ToLower(format))

	entry := Entry{
		ID:      fmt.Sprintf("urn:calibrewebui:book:%d", book.ID),
		Title:   book.Title,
		Updated: book.LastModified,
		Links: []Link{
			{Rel: OPDSLinkRelAcquisition, Href: downloadURL, Type: GetMIMEType(format), Title: format},
		},
	}
	if book.HasCover {
		coverURL := fmt.Sprintf("%s/opds/%s/books/%d/cover", d.BaseURL, d.Device.UID, book.ID)
		entry.Links = append(entry.Links,
			Link{Rel: OPDSLinkRelImage, Href: coverURL, Type: "image/jpeg"},
			Link{Rel: OPDSLinkRelThumbnail, Href: coverURL, Type: "image/jpeg"},
		)
	}
	for _, name := range models.SplitAggregate(book.Authors, models.AuthorSeparator) {
		entry.Authors = append(entry.Authors, Author{Name: name})
	}
	for _, tag := range book.TagList() {
		entry.Categories = append(entry.Categories, Category{Term: tag, Label: tag})
	}
	if book.Comments != "" {
		entry.Summary = &Summary{Type: "text", Value: book.Comments}
	}
	if book.PubDate != nil {
		entry.DCIssued = book.PubDate.Format("2006-01-02")
	}
	return entry
}

// pickFormat returns the first preferred format the book has. Without
// preferences the book's first format is used.
func pickFormat(available, preferred []string) string {
	if len(available) == 0 {
		return ""
	}
	if len(preferred) == 0 {
		return strings.ToUpper(available[0])
	}
	for _, p := range preferred {
		for _, a := range available {
			if strings.EqualFold(a, p) {
				return p
			}
		}
	}
	return ""
}

// GetMIMEType returns the MIME type for a given file format
func GetMIMEType(format string) string {
	switch strings.ToLower(format) {
	case "epub":
		return "application/epub+zip"
	case "pdf":
		return "application/pdf"
	case "mobi", "prc":
		return "application/x-mobipocket-ebook"
	case "azw", "azw3":
		return "application/vnd.amazon.ebook"
	case "cbz":
		return "application/vnd.comicbook+zip"
	case "cbr":
		return "application/vnd.comicbook-rar"
	case "fb2":
		return "application/x-fictionbook+xml"
	case "txt":
		return "text/plain"
	case "rtf":
		return "application/rtf"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}

// ToXML converts the feed to XML bytes
func (f *Feed) ToXML() ([]byte, error) {
	output, err := xml.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}

// OpenSearchDescription generates an OpenSearch description document
func OpenSearchDescription(feedURL string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<OpenSearchDescription xmlns="http://a9.com/-/spec/opensearch/1.1/">
  <ShortName>Calibre</ShortName>
  <Description>Search the calibre library</Description>
  <InputEncoding>UTF-8</InputEncoding>
  <OutputEncoding>UTF-8</OutputEncoding>
  <Url type="%s" template="%s?q={searchTerms}"/>
</OpenSearchDescription>`, OPDSFeedType, feedURL)
}
