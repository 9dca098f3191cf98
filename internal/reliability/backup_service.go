// Package reliability backs up the snapshot ledger to object storage.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aristath/networth/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	backupPrefix    = "networth-backup-"
	backupSuffix    = ".tar.gz"
	backupTimestamp = "2006-01-02-150405"

	// minBackupsToKeep survive rotation regardless of age
	minBackupsToKeep = 3
)

// BackupMetadata is written next to the database copy inside the archive
type BackupMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata contains metadata about a single database in the backup
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo represents one backup stored remotely
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
}

// BackupService copies databases with VACUUM INTO, archives them and uploads
// the archive.
type BackupService struct {
	databases     []*database.DB
	store         ObjectStore
	stagingDir    string
	retentionDays int
	now           func() time.Time
	log           zerolog.Logger
}

// NewBackupService creates a new backup service. retentionDays 0 keeps every backup.
func NewBackupService(databases []*database.DB, store ObjectStore, stagingDir string, retentionDays int, log zerolog.Logger) *BackupService {
	return &BackupService{
		databases:     databases,
		store:         store,
		stagingDir:    stagingDir,
		retentionDays: retentionDays,
		now:           time.Now,
		log:           log.With().Str("service", "backup").Logger(),
	}
}

// CreateAndUpload builds a tar.gz of every database and uploads it.
func (s *BackupService) CreateAndUpload(ctx context.Context) (*BackupInfo, error) {
	startTime := time.Now()
	timestamp := s.now().UTC()

	stagingDir := filepath.Join(s.stagingDir, "backup-staging-"+timestamp.Format(backupTimestamp))
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	if err := s.checkDiskSpace(stagingDir); err != nil {
		return nil, err
	}

	metadata := BackupMetadata{Timestamp: timestamp}
	files := make([]string, 0, len(s.databases)+1)

	for _, db := range s.databases {
		filename := db.Name() + ".db"
		dbPath := filepath.Join(stagingDir, filename)

		s.log.Debug().Str("database", db.Name()).Msg("Backing up database")

		if err := db.WALCheckpoint(ctx, "TRUNCATE"); err != nil {
			s.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}
		if err := db.VacuumInto(ctx, dbPath); err != nil {
			return nil, fmt.Errorf("failed to backup %s: %w", db.Name(), err)
		}

		info, err := os.Stat(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s backup: %w", db.Name(), err)
		}
		checksum, err := calculateChecksum(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to calculate checksum for %s: %w", db.Name(), err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      db.Name(),
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, filename)
	}

	if err := writeMetadata(filepath.Join(stagingDir, "backup-metadata.json"), metadata); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}
	files = append(files, "backup-metadata.json")

	key := backupPrefix + timestamp.Format(backupTimestamp) + backupSuffix
	archivePath := filepath.Join(stagingDir, key)
	if err := createArchive(archivePath, stagingDir, files); err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	archiveInfo, err := archive.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	if err := s.store.Upload(ctx, key, archive); err != nil {
		return nil, err
	}

	s.log.Info().
		Dur("duration", time.Since(startTime)).
		Str("key", key).
		Int64("size_bytes", archiveInfo.Size()).
		Msg("Backup uploaded")

	return &BackupInfo{Key: key, Timestamp: timestamp, SizeBytes: archiveInfo.Size()}, nil
}

// ListBackups returns stored backups, newest first
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, backupPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, backupPrefix) || !strings.HasSuffix(obj.Key, backupSuffix) {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(obj.Key, backupPrefix), backupSuffix)
		ts, err := time.Parse(backupTimestamp, raw)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Failed to parse timestamp from backup key")
			continue
		}
		backups = append(backups, BackupInfo{Key: obj.Key, Timestamp: ts, SizeBytes: obj.SizeBytes})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups deletes backups older than the retention window and
// returns how many were removed. The newest minBackupsToKeep always stay.
func (s *BackupService) RotateOldBackups(ctx context.Context) (int, error) {
	if s.retentionDays <= 0 {
		return 0, nil
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= minBackupsToKeep {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for _, backup := range backups[minBackupsToKeep:] {
		if !backup.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, backup.Key); err != nil {
			s.log.Error().Err(err).Str("key", backup.Key).Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().Str("key", backup.Key).Time("timestamp", backup.Timestamp).Msg("Deleted old backup")
		deleted++
	}

	return deleted, nil
}

// checkDiskSpace refuses to stage when the staging volume cannot hold a copy
// of every database.
func (s *BackupService) checkDiskSpace(dir string) error {
	var needed uint64
	for _, db := range s.databases {
		if fi, err := os.Stat(db.Path()); err == nil {
			needed += uint64(fi.Size())
		}
	}

	usage, err := disk.Usage(dir)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read disk usage")
		return nil
	}
	if usage.Free < needed*2 {
		return fmt.Errorf("insufficient disk space for backup: %d bytes free, %d needed", usage.Free, needed*2)
	}
	return nil
}

func calculateChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
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
	tarWriter := tar.NewWriter(gzipWriter)

	for _, name := range filenames {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, name), name); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzipWriter.Close()
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

	_, err = io.Copy(tarWriter, file)
	return err
}
