package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justyntemme/calibrewebui/internal/models"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndGetDevice(t *testing.T) {
	db := setupTestDB(t)

	device := &models.Device{
		Name:            "Kobo",
		Formats:         "epub, kepub,EPUB",
		BookTagsFilters: "-read",
	}
	require.NoError(t, db.CreateDevice(device))
	assert.NotZero(t, device.ID)
	assert.Len(t, device.UID, 32)

	retrieved, err := db.GetDevice(device.UID)
	require.NoError(t, err)
	assert.Equal(t, "Kobo", retrieved.Name)
	assert.Equal(t, "EPUB,KEPUB", retrieved.Formats)
	assert.Equal(t, "-read", retrieved.BookTagsFilters)
}

func TestGetDeviceNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetDevice("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 404, HTTPStatus(err))
}

func TestUpdateDevice(t *testing.T) {
	db := setupTestDB(t)

	device := &models.Device{Name: "Kindle", Formats: "MOBI"}
	require.NoError(t, db.CreateDevice(device))

	device.Name = "Kindle Paperwhite"
	device.Formats = "azw3,mobi"
	device.BookTagsFilters = "sci-fi"
	require.NoError(t, db.UpdateDevice(device))

	retrieved, err := db.GetDevice(device.UID)
	require.NoError(t, err)
	assert.Equal(t, "Kindle Paperwhite", retrieved.Name)
	assert.Equal(t, []string{"AZW3", "MOBI"}, retrieved.FormatList())
	assert.Equal(t, "sci-fi", retrieved.BookTagsFilters)

	err = db.UpdateDevice(&models.Device{UID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAndDeleteDevices(t *testing.T) {
	db := setupTestDB(t)

	for _, name := range []string{"b-reader", "a-reader"} {
		require.NoError(t, db.CreateDevice(&models.Device{Name: name, Formats: "EPUB"}))
	}

	devices, err := db.ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "a-reader", devices[0].Name)

	require.NoError(t, db.DeleteDevice(devices[0].UID))
	assert.ErrorIs(t, db.DeleteDevice(devices[0].UID), ErrNotFound)

	devices, err = db.ListDevices()
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestDuplicateUIDRejected(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.CreateDevice(&models.Device{Name: "one", UID: "fixed"}))
	err := db.CreateDevice(&models.Device{Name: "two", UID: "fixed"})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestMigrateAddsTagFilterColumn(t *testing.T) {
	dir := t.TempDir()

	raw, err := sql.Open("sqlite3", filepath.Join(dir, WebUIDBName))
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TABLE devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		uid TEXT UNIQUE NOT NULL,
		formats TEXT NOT NULL DEFAULT ''
	)`)
	require.NoError(t, err)
	_, err = raw.Exec(`INSERT INTO devices (name, uid, formats) VALUES ('old', 'legacy', 'EPUB')`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	db, err := NewDatabase(dir)
	require.NoError(t, err)
	defer db.Close()

	device, err := db.GetDevice("legacy")
	require.NoError(t, err)
	assert.Equal(t, "", device.BookTagsFilters)
}

func TestNormalizeFormats(t *testing.T) {
	assert.Equal(t, "", normalizeFormats(""))
	assert.Equal(t, "EPUB,PDF", normalizeFormats("epub, pdf ,Epub,,"))
}

func TestSQLiteDSNEscapesPath(t *testing.T) {
	assert.Equal(t, "file:/books/Library%20%231%3F/calibrewebui.db?mode=ro",
		SQLiteDSN("/books/Library #1?/calibrewebui.db", "mode=ro"))
	assert.Equal(t, "file:/books/metadata.db", SQLiteDSN("/books/metadata.db", ""))
}

func TestDatabaseInDirectoryWithHash(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "Books #2")

	db, err := NewDatabase(dir)
	require.NoError(t, err)
	require.NoError(t, db.CreateDevice(&models.Device{Name: "Kobo", Formats: "EPUB"}))
	require.NoError(t, db.Close())

	_, err = os.Stat(filepath.Join(dir, WebUIDBName))
	require.NoError(t, err)

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Books #2", entries[0].Name())
}
