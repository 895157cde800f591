package sqlite

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// DefaultMaxBackups bounds the backup directory when callers pass zero.
const DefaultMaxBackups = 20

var errNoBackups = errors.New("no ledger backups available")

type backupInfo struct {
	path   string
	height int64
	seq    int
}

// Backup writes a consistent copy of the database into the backup directory,
// named after the last committed height, and prunes all but the newest
// maxBackups files. It returns the path written.
func (s *Store) Backup(maxBackups int) (string, error) {
	if maxBackups <= 0 {
		maxBackups = DefaultMaxBackups
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure backup directory: %w", err)
	}

	var height int64
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(height), 0) FROM commit_info`).Scan(&height); err != nil {
		return "", fmt.Errorf("read commit height: %w", err)
	}

	prefix, ext := s.backupPrefix()
	path := uniqueBackupPath(s.backupDir, prefix, ext, height)

	escaped := strings.ReplaceAll(path, "'", "''")
	if _, err := s.db.Exec(fmt.Sprintf("VACUUM INTO '%s'", escaped)); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("vacuum into backup: %w", err)
	}

	pruneBackups(s.backupDir, prefix, ext, maxBackups)
	log.WithFields(log.Fields{"path": path, "height": height}).Info("ledger backup written")
	return path, nil
}

func (s *Store) backupPrefix() (string, string) {
	base := filepath.Base(s.file)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)
	if prefix == "" {
		prefix = base
	}
	return prefix, ext
}

// A second backup at the same height gets a ".N" suffix on the height.
func uniqueBackupPath(dir, prefix, ext string, height int64) string {
	path := filepath.Join(dir, fmt.Sprintf("%s-%d%s", prefix, height, ext))
	for i := 1; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s-%d.%d%s", prefix, height, i, ext))
	}
}

func (s *Store) recoverDatabase(openErr error) error {
	if err := s.restoreLatestBackup(); err != nil {
		if errors.Is(err, errNoBackups) {
			if cleanErr := s.resetDatabaseFiles(); cleanErr != nil {
				return fmt.Errorf("reset database after %v: %w", openErr, cleanErr)
			}
			if err := s.openDB(); err != nil {
				return fmt.Errorf("create fresh database after %v: %w", openErr, err)
			}
			return nil
		}
		return fmt.Errorf("restore database after %v: %w", openErr, err)
	}
	return nil
}

func (s *Store) resetDatabaseFiles() error {
	_ = s.closeDB()

	var firstErr error
	for _, path := range []string{s.file, s.file + "-wal", s.file + "-shm"} {
		if err := os.Remove(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("remove %s: %w", filepath.Base(path), err)
			}
		}
	}
	return firstErr
}

func (s *Store) restoreLatestBackup() error {
	prefix, ext := s.backupPrefix()
	backups, err := listBackups(s.backupDir, prefix, ext)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		return errNoBackups
	}

	latest := backups[len(backups)-1]
	if err := s.resetDatabaseFiles(); err != nil {
		return err
	}
	if err := copyFile(latest.path, s.file); err != nil {
		return fmt.Errorf("copy backup %s: %w", filepath.Base(latest.path), err)
	}
	log.WithField("backup", filepath.Base(latest.path)).Warn("ledger restored from backup")
	return s.openDB()
}

func listBackups(dir, prefix, ext string) ([]backupInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var backups []backupInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(name, prefix+"-") {
			continue
		}
		if ext != "" && !strings.HasSuffix(name, ext) {
			continue
		}

		stem := strings.TrimPrefix(strings.TrimSuffix(name, ext), prefix+"-")
		heightPart, seqPart, hasSeq := strings.Cut(stem, ".")
		height, parseErr := strconv.ParseInt(heightPart, 10, 64)
		if parseErr != nil {
			continue
		}
		var seq int
		if hasSeq {
			if seq, parseErr = strconv.Atoi(seqPart); parseErr != nil {
				continue
			}
		}

		backups = append(backups, backupInfo{
			path:   filepath.Join(dir, name),
			height: height,
			seq:    seq,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].height == backups[j].height {
			return backups[i].seq < backups[j].seq
		}
		return backups[i].height < backups[j].height
	})

	return backups, nil
}

func pruneBackups(dir, prefix, ext string, keep int) {
	backups, err := listBackups(dir, prefix, ext)
	if err != nil || len(backups) <= keep {
		return
	}
	for _, b := range backups[:len(backups)-keep] {
		if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).WithField("path", b.path).Warn("failed to prune ledger backup")
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
