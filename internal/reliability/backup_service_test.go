package reliability

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type stubStore struct {
	uploads map[string][]byte
	objects []Object
	deleted []string
}

func newStubStore() *stubStore {
	return &stubStore{uploads: map[string][]byte{}}
}

func (s *stubStore) Upload(ctx context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.uploads[key] = data
	return nil
}

func (s *stubStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	for _, obj := range s.objects {
		if strings.HasPrefix(obj.Key, prefix) {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (s *stubStore) Delete(ctx context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	return nil
}

func openLedgerDB(t *testing.T, dir string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE actions (id INTEGER PRIMARY KEY, symbol TEXT); INSERT INTO actions (symbol) VALUES ('OPAP')`)
	require.NoError(t, err)

	return db
}

func TestBackup_UploadsArchive(t *testing.T) {
	dataDir := t.TempDir()
	db := openLedgerDB(t, dataDir)
	store := newStubStore()

	svc := NewBackupService(map[string]*sql.DB{"ledger": db}, dataDir, store, 0, zerolog.Nop())

	key, err := svc.Backup(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, archivePrefix))
	assert.True(t, strings.HasSuffix(key, ".tar.gz"))

	data, ok := store.uploads[key]
	require.True(t, ok)
	assert.NotEmpty(t, data)
	// gzip magic bytes
	assert.True(t, bytes.HasPrefix(data, []byte{0x1f, 0x8b}))
}

func TestBackup_LocalOnlyWithoutStore(t *testing.T) {
	dataDir := t.TempDir()
	db := openLedgerDB(t, dataDir)

	svc := NewBackupService(map[string]*sql.DB{"ledger": db}, dataDir, nil, 0, zerolog.Nop())

	path, err := svc.Backup(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, filepath.Join(dataDir, "backups")))

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, filepath.Base(path), backups[0].Key)
}

func TestRotateOldBackups_KeepsNewest(t *testing.T) {
	store := newStubStore()
	for i := 0; i < 5; i++ {
		stamp := time.Now().AddDate(0, 0, -i*10).UTC().Format("2006-01-02-150405")
		store.objects = append(store.objects, Object{Key: archivePrefix + stamp + "-deadbeef.tar.gz"})
	}

	svc := NewBackupService(nil, t.TempDir(), store, 14, zerolog.Nop())

	deleted, err := svc.RotateOldBackups(context.Background())
	require.NoError(t, err)
	// 5 archives at 0/10/20/30/40 days old: the newest 3 always survive,
	// the 30- and 40-day ones fall past the 14-day retention.
	assert.Equal(t, 2, deleted)
	assert.Len(t, store.deleted, 2)
}

func TestParseArchiveTimestamp(t *testing.T) {
	ts, ok := parseArchiveTimestamp("folio-backup-2026-01-08-143022-1a2b3c4d.tar.gz")
	require.True(t, ok)
	assert.Equal(t, 2026, ts.Year())
	assert.Equal(t, 14, ts.Hour())

	_, ok = parseArchiveTimestamp("folio-backup-garbage.tar.gz")
	assert.False(t, ok)

	_, ok = parseArchiveTimestamp("something-else.tar.gz")
	assert.False(t, ok)
}
