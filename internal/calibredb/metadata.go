package calibredb

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/justyntemme/calibrewebui/internal/models"
)

// MetadataFields are the calibredb field names the edit form may change
var MetadataFields = []string{
	"title",
	"authors",
	"tags",
	"series",
	"series_index",
	"publisher",
	"pubdate",
	"rating",
	"comments",
	"isbn",
	"languages",
}

// CurrentMetadata renders a book's editable fields the way the edit form submits them
func CurrentMetadata(d *models.BookDetails) map[string]string {
	b := d.Book
	fields := map[string]string{
		"title":        b.Title,
		"authors":      b.Authors,
		"tags":         b.Tags,
		"series":       b.Series,
		"series_index": b.SeriesIndex.String(),
		"publisher":    d.Publisher,
		"pubdate":      "",
		"rating":       "",
		"comments":     b.Comments,
		"isbn":         b.ISBN,
		"languages":    strings.Join(d.Languages, ","),
	}
	if b.PubDate != nil {
		fields["pubdate"] = b.PubDate.Format("2006-01-02")
	}
	if b.Rating > 0 {
		fields["rating"] = strconv.FormatFloat(b.Rating, 'f', -1, 64)
	}
	return fields
}

// DiffMetadata returns the known fields of submitted whose value differs from current.
// Fields missing from submitted are left alone.
func DiffMetadata(current, submitted map[string]string) map[string]string {
	diff := make(map[string]string)
	for _, field := range MetadataFields {
		value, ok := submitted[field]
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if !sameValue(field, current[field], value) {
			diff[field] = value
		}
	}
	return diff
}

// listSeparators splits the multi-value fields the way calibre does
var listSeparators = map[string]string{
	"authors":   "&",
	"tags":      ",",
	"languages": ",",
}

// sameValue compares a field's stored and submitted renderings.
// Numbers compare by value ("1" equals "1.0") and lists compare item by item
// ignoring spacing and order.
func sameValue(field, current, submitted string) bool {
	if current == submitted {
		return true
	}
	switch field {
	case "series_index", "rating":
		a, errA := decimal.NewFromString(current)
		b, errB := decimal.NewFromString(submitted)
		return errA == nil && errB == nil && a.Equal(b)
	}
	if sep, ok := listSeparators[field]; ok {
		a, b := splitList(current, sep), splitList(submitted, sep)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}
	return false
}

func splitList(s, sep string) []string {
	var items []string
	for _, item := range strings.Split(s, sep) {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	sort.Strings(items)
	return items
}

// SaveMetadata writes the given fields with calibredb set_metadata.
// An empty field map runs nothing and reports changed=false.
func (g *Gateway) SaveMetadata(ctx context.Context, bookID int64, fields map[string]string) (Status, bool) {
	if len(fields) == 0 {
		return StatusOK, false
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var args []string
	for _, name := range names {
		value := fields[name]
		// The form edits stars; calibre stores half-stars
		if name == "rating" && value != "" {
			if stars, err := strconv.ParseFloat(value, 64); err == nil {
				value = strconv.Itoa(int(stars*2 + 0.5))
			}
		}
		args = append(args, "--field", name+":"+value)
	}
	args = append(args, strconv.FormatInt(bookID, 10))

	res := g.calibredb(ctx, "set_metadata", args...)
	g.logger.Info("save metadata", zap.Int64("book_id", bookID), zap.Strings("fields", names), zap.Int("status", int(res.Status)))
	return res.Status, true
}

// FetchMetadata downloads metadata for a book into a scratch OPF file, applies it
// and embeds it into the book's primary format. The OPF file is always removed.
func (g *Gateway) FetchMetadata(ctx context.Context, bookID int64) bool {
	book, err := g.books.GetBook(ctx, bookID)
	if err != nil {
		g.logger.Warn("fetch metadata: book lookup failed", zap.Int64("book_id", bookID), zap.Error(err))
		return false
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return false
	}

	opf, err := os.CreateTemp(g.scratch.Dir(), fmt.Sprintf("metadata-%d-*.opf", bookID))
	if err != nil {
		g.logger.Error("fetch metadata: create scratch file", zap.Error(err))
		return false
	}
	defer os.Remove(opf.Name())

	args := []string{"--title", book.Title}
	if book.Authors != "" {
		args = append(args, "--authors", book.Authors)
	}
	if book.ISBN != "" {
		args = append(args, "--isbn", book.ISBN)
	}
	args = append(args, "--opf")

	res := g.runner.Run(ctx, g.cfg.FetchMetadataBin, args...)
	if !res.Status.OK() || strings.TrimSpace(res.Stdout) == "" {
		opf.Close()
		g.logger.Info("no metadata found", zap.Int64("book_id", bookID), zap.Int("status", int(res.Status)))
		return false
	}
	_, writeErr := opf.WriteString(res.Stdout)
	if err := opf.Close(); err != nil || writeErr != nil {
		g.logger.Error("fetch metadata: write scratch file", zap.Error(err), zap.NamedError("write", writeErr))
		return false
	}

	id := strconv.FormatInt(bookID, 10)
	if !g.calibredb(ctx, "set_metadata", id, opf.Name()).Status.OK() {
		return false
	}

	embed := []string{}
	if primary := g.primaryFormat(ctx, bookID); primary != "" {
		embed = append(embed, "--only-formats", primary)
	}
	embed = append(embed, id)
	ok := g.calibredb(ctx, "embed_metadata", embed...).Status.OK()

	g.logger.Info("fetch metadata", zap.Int64("book_id", bookID), zap.Bool("ok", ok))
	return ok
}

// primaryFormat picks the configured preferred format when the book has it,
// otherwise its first format
func (g *Gateway) primaryFormat(ctx context.Context, bookID int64) string {
	formats, err := g.books.GetBookFormats(ctx, bookID)
	if err != nil || len(formats) == 0 {
		return ""
	}
	for _, f := range formats {
		if strings.EqualFold(f.Format, g.cfg.PreferredFormat) {
			return f.Format
		}
	}
	return formats[0].Format
}
