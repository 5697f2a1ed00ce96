package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/MrWong99/doctorapp/internal/observe"
)

const (
	backupPrefix     = "database_"
	backupSuffix     = ".bak"
	backupTimeLayout = "20060102_150405"
)

// Backup writes a consistent snapshot of the database to
// backup/database_YYYYMMDD_HHMMSS.bak and prunes all but the newest backups
// according to the retention setting. It returns the new file's path, or ""
// on failure. Failures are logged, never raised.
func (s *Store) Backup(ctx context.Context) string {
	ctx, done := s.track(ctx, "backup")
	path, pruned, err := s.backup(ctx)
	done(err)
	s.metrics.RecordBackup(ctx, observe.Status(err == nil), pruned)
	return path
}

func (s *Store) backup(ctx context.Context) (string, int, error) {
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", 0, err
	}
	name := backupPrefix + s.now().Format(backupTimeLayout) + backupSuffix
	path := filepath.Join(s.backupDir, name)

	// VACUUM INTO refuses to overwrite; a second backup within the same
	// second replaces the first.
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", 0, err
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return "", 0, fmt.Errorf("vacuum into %q: %w", path, err)
	}

	pruned, err := s.prune()
	if err != nil {
		return path, pruned, fmt.Errorf("rotate backups: %w", err)
	}
	return path, pruned, nil
}

// prune deletes every backup beyond the newest s.keep.
func (s *Store) prune() (int, error) {
	names, err := s.backupNames()
	if err != nil {
		return 0, err
	}
	if len(names) <= s.keep {
		return 0, nil
	}
	var (
		pruned int
		errs   []error
	)
	for _, n := range names[s.keep:] {
		if err := os.Remove(filepath.Join(s.backupDir, n)); err != nil {
			errs = append(errs, err)
			continue
		}
		pruned++
	}
	return pruned, errors.Join(errs...)
}

// Backups lists existing backup files, newest first.
func (s *Store) Backups() []string {
	names, err := s.backupNames()
	if err != nil {
		s.sink.Record(fmt.Sprintf("List backups failed: %v", err))
		return []string{}
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, filepath.Join(s.backupDir, n))
	}
	return out
}

// backupNames returns backup file names sorted newest first. The embedded
// timestamp makes lexical order chronological.
func (s *Store) backupNames() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(n, backupPrefix) && strings.HasSuffix(n, backupSuffix) {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	slices.Reverse(names)
	return names, nil
}
