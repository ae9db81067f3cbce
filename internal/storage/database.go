package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/justyntemme/calibrewebui/internal/models"
)

// WebUIDBName is the file name of the web UI's own database, kept next to the ledger
const WebUIDBName = "calibrewebui.db"

// SQLiteDSN builds a go-sqlite3 URI for the database file at path. The path
// is escaped so '#', '?' and '%' in directory names stay part of the name.
func SQLiteDSN(path, params string) string {
	dsn := "file:" + (&url.URL{Path: path}).EscapedPath()
	if params != "" {
		dsn += "?" + params
	}
	return dsn
}

// Database holds state owned by the web UI itself (registered devices).
// The calibre catalog is never written through it.
type Database struct {
	db *sql.DB
}

// NewDatabase opens or creates the web UI database in dir
func NewDatabase(dir string) (*Database, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, Unavailable("create webui db dir", err)
	}
	dsn := SQLiteDSN(filepath.Join(dir, WebUIDBName), "_busy_timeout=5000&_foreign_keys=on")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, Unavailable("open webui db", err)
	}

	d := &Database{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, Unavailable("migrate webui db", err)
	}

	return d, nil
}

func (d *Database) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		uid TEXT UNIQUE NOT NULL,
		formats TEXT NOT NULL DEFAULT '',
		book_tags_filters TEXT NOT NULL DEFAULT ''
	);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return err
	}

	// Databases created before tag filters existed lack the column
	has, err := d.hasColumn("devices", "book_tags_filters")
	if err != nil {
		return err
	}
	if !has {
		_, err = d.db.Exec(`ALTER TABLE devices ADD COLUMN book_tags_filters TEXT NOT NULL DEFAULT ''`)
	}
	return err
}

func (d *Database) hasColumn(table, column string) (bool, error) {
	rows, err := d.db.Query(fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}

// NewDeviceUID returns a fresh uid not used by any device
func (d *Database) NewDeviceUID() (string, error) {
	for range 5 {
		uid := strings.ReplaceAll(uuid.NewString(), "-", "")
		_, err := d.GetDevice(uid)
		if errors.Is(err, ErrNotFound) {
			return uid, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("could not allocate a unique device uid")
}

// CreateDevice inserts a device; an empty UID is generated
func (d *Database) CreateDevice(device *models.Device) error {
	if device.UID == "" {
		uid, err := d.NewDeviceUID()
		if err != nil {
			return err
		}
		device.UID = uid
	}

	res, err := d.db.Exec(`
		INSERT INTO devices (name, uid, formats, book_tags_filters)
		VALUES (?, ?, ?, ?)`,
		device.Name, device.UID, normalizeFormats(device.Formats), device.BookTagsFilters,
	)
	if err != nil {
		return Unavailable("insert device", err)
	}
	device.ID, err = res.LastInsertId()
	return err
}

// UpdateDevice replaces the mutable fields of the device identified by UID
func (d *Database) UpdateDevice(device *models.Device) error {
	res, err := d.db.Exec(`
		UPDATE devices SET name = ?, formats = ?, book_tags_filters = ?
		WHERE uid = ?`,
		device.Name, normalizeFormats(device.Formats), device.BookTagsFilters, device.UID,
	)
	if err != nil {
		return Unavailable("update device", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound.WithMessage("device %s", device.UID)
	}
	return nil
}

// GetDevice retrieves a device by uid
func (d *Database) GetDevice(uid string) (*models.Device, error) {
	device := &models.Device{}
	err := d.db.QueryRow(`
		SELECT id, name, uid, formats, book_tags_filters
		FROM devices WHERE uid = ?`, uid,
	).Scan(&device.ID, &device.Name, &device.UID, &device.Formats, &device.BookTagsFilters)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound.WithMessage("device %s", uid)
	}
	if err != nil {
		return nil, Unavailable("get device", err)
	}
	return device, nil
}

// ListDevices returns all devices ordered by name
func (d *Database) ListDevices() ([]models.Device, error) {
	rows, err := d.db.Query(`SELECT id, name, uid, formats, book_tags_filters FROM devices ORDER BY name, id`)
	if err != nil {
		return nil, Unavailable("list devices", err)
	}
	defer rows.Close()

	devices := []models.Device{}
	for rows.Next() {
		var device models.Device
		if err := rows.Scan(&device.ID, &device.Name, &device.UID, &device.Formats, &device.BookTagsFilters); err != nil {
			return nil, Unavailable("scan device", err)
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

// DeleteDevice removes a device
func (d *Database) DeleteDevice(uid string) error {
	res, err := d.db.Exec(`DELETE FROM devices WHERE uid = ?`, uid)
	if err != nil {
		return Unavailable("delete device", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound.WithMessage("device %s", uid)
	}
	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// normalizeFormats upper-cases and de-duplicates a comma-separated format list
func normalizeFormats(formats string) string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range models.SplitAggregate(formats, ",") {
		f = strings.ToUpper(f)
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return strings.Join(out, ",")
}
