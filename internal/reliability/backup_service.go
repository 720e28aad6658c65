package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const archivePrefix = "folio-backup-"

// minBackupsToKeep is a rotation floor: this many archives survive
// regardless of age.
const minBackupsToKeep = 3

// BackupMetadata describes one backup archive.
type BackupMetadata struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes a single database inside the archive.
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo summarizes a stored archive.
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupService snapshots the sqlite databases and ships the archive.
// With no ObjectStore configured the archive stays in dataDir/backups.
type BackupService struct {
	databases     map[string]*sql.DB
	dataDir       string
	store         ObjectStore
	retentionDays int
	log           zerolog.Logger
}

// NewBackupService creates a backup service over the named databases.
func NewBackupService(databases map[string]*sql.DB, dataDir string, store ObjectStore, retentionDays int, log zerolog.Logger) *BackupService {
	return &BackupService{
		databases:     databases,
		dataDir:       dataDir,
		store:         store,
		retentionDays: retentionDays,
		log:           log.With().Str("service", "backup").Logger(),
	}
}

// Backup snapshots every database, archives the snapshots and uploads the
// archive. Returns the remote key, or the local path when no store is
// configured.
func (s *BackupService) Backup(ctx context.Context) (string, error) {
	start := time.Now()

	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := BackupMetadata{
		ID:        uuid.NewString(),
		Timestamp: start.UTC(),
	}

	names := make([]string, 0, len(s.databases))
	for name := range s.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	var files []string
	for _, name := range names {
		snapshotPath := filepath.Join(stagingDir, name+".db")
		if err := s.snapshotDatabase(s.databases[name], snapshotPath); err != nil {
			return "", fmt.Errorf("failed to snapshot %s: %w", name, err)
		}

		info, err := os.Stat(snapshotPath)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s snapshot: %w", name, err)
		}
		checksum, err := fileChecksum(snapshotPath)
		if err != nil {
			return "", fmt.Errorf("failed to checksum %s snapshot: %w", name, err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      name,
			Filename:  name + ".db",
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, name+".db")
	}

	metadataPath := filepath.Join(stagingDir, "backup-metadata.json")
	if err := writeMetadata(metadataPath, metadata); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}
	files = append(files, "backup-metadata.json")

	archiveName := fmt.Sprintf("%s%s-%s.tar.gz",
		archivePrefix, start.UTC().Format("2006-01-02-150405"), metadata.ID[:8])
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, stagingDir, files); err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	location, err := s.ship(ctx, archivePath, archiveName)
	if err != nil {
		return "", err
	}

	s.log.Info().
		Dur("duration_ms", time.Since(start)).
		Str("archive", archiveName).
		Int("databases", len(metadata.Databases)).
		Msg("Backup completed")

	return location, nil
}

// ListBackups lists stored archives, newest first. Local-only setups list
// the backups directory instead.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	if s.store == nil {
		return s.listLocal()
	}

	objects, err := s.store.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	backups := make([]BackupInfo, 0, len(objects))
	now := time.Now()
	for _, obj := range objects {
		timestamp, ok := parseArchiveTimestamp(obj.Key)
		if !ok {
			s.log.Warn().Str("key", obj.Key).Msg("Skipping unrecognized object in backup prefix")
			continue
		}
		backups = append(backups, BackupInfo{
			Key:       obj.Key,
			Timestamp: timestamp,
			SizeBytes: obj.SizeBytes,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})

	return backups, nil
}

// RotateOldBackups deletes remote archives past the retention period,
// always keeping the newest few.
func (s *BackupService) RotateOldBackups(ctx context.Context) (int, error) {
	if s.store == nil || s.retentionDays <= 0 {
		return 0, nil
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= minBackupsToKeep {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for i, backup := range backups {
		if i < minBackupsToKeep || !backup.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, backup.Key); err != nil {
			s.log.Error().Err(err).Str("key", backup.Key).Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().Str("key", backup.Key).Msg("Old backup deleted")
		deleted++
	}

	return deleted, nil
}

// snapshotDatabase writes a consistent copy of a live database using
// VACUUM INTO, which works while other connections hold the file.
func (s *BackupService) snapshotDatabase(db *sql.DB, destPath string) error {
	if _, err := db.Exec(`VACUUM INTO ?`, destPath); err != nil {
		return fmt.Errorf("vacuum into failed: %w", err)
	}
	return nil
}

func (s *BackupService) ship(ctx context.Context, archivePath, archiveName string) (string, error) {
	if s.store == nil {
		backupDir := filepath.Join(s.dataDir, "backups")
		if err := os.MkdirAll(backupDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create backup directory: %w", err)
		}
		destPath := filepath.Join(backupDir, archiveName)
		if err := os.Rename(archivePath, destPath); err != nil {
			return "", fmt.Errorf("failed to move archive: %w", err)
		}
		return destPath, nil
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	if err := s.store.Upload(ctx, archiveName, archive); err != nil {
		return "", err
	}

	if deleted, err := s.RotateOldBackups(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Backup rotation failed")
	} else if deleted > 0 {
		s.log.Info().Int("deleted", deleted).Msg("Backup rotation completed")
	}

	return archiveName, nil
}

func (s *BackupService) listLocal() ([]BackupInfo, error) {
	backupDir := filepath.Join(s.dataDir, "backups")
	entries, err := os.ReadDir(backupDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []BackupInfo
	now := time.Now()
	for _, entry := range entries {
		timestamp, ok := parseArchiveTimestamp(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{
			Key:       entry.Name(),
			Timestamp: timestamp,
			SizeBytes: info.Size(),
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})

	return backups, nil
}

// parseArchiveTimestamp extracts the timestamp from a name like
// folio-backup-2026-01-08-143022-1a2b3c4d.tar.gz
func parseArchiveTimestamp(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, archivePrefix) || !strings.HasSuffix(key, ".tar.gz") {
		return time.Time{}, false
	}

	stamp := strings.TrimPrefix(key, archivePrefix)
	stamp = strings.TrimSuffix(stamp, ".tar.gz")
	if idx := strings.LastIndex(stamp, "-"); idx > 0 {
		stamp = stamp[:idx]
	}

	timestamp, err := time.Parse("2006-01-02-150405", stamp)
	if err != nil {
		return time.Time{}, false
	}
	return timestamp, true
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeMetadata(path string, metadata BackupMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

func createArchive(archivePath, sourceDir string, filenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, filename := range filenames {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, filename), filename); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filename, err)
		}
	}

	return nil
}

func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	if _, err := io.Copy(tarWriter, file); err != nil {
		return err
	}

	return nil
}
