package ftp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
)

// DefaultTempSuffix hides in-progress downloads from consumers of the
// local directory until the rename on completion.
const DefaultTempSuffix = ".writing"

// SyncConfig configures a Synchronizer.
type SyncConfig struct {
	// RemoteDir is the remote source directory.
	RemoteDir string
	// LocalDir is the local destination directory, created if absent.
	LocalDir string
	// FilenamePattern is a regular expression selecting remote files.
	// Empty matches everything.
	FilenamePattern string
	// TempSuffix is appended to a file while it downloads; the file is
	// renamed to its final name once the transfer completes. Defaults
	// to DefaultTempSuffix.
	TempSuffix string
	// DeleteRemote removes successfully downloaded files from the
	// server.
	DeleteRemote bool

	Logger *slog.Logger
}

// Synchronizer downloads new matching files from a remote FTP directory
// into a local one. Files already present locally are skipped, and a
// partially transferred file is never visible under its final name.
type Synchronizer struct {
	opener       Opener
	remoteDir    string
	localDir     string
	filter       *regexp.Regexp
	tempSuffix   string
	deleteRemote bool
	logger       *slog.Logger
}

// NewSynchronizer builds a synchronizer from the given session opener
// and config.
func NewSynchronizer(opener Opener, cfg SyncConfig) (*Synchronizer, error) {
	var filter *regexp.Regexp
	if cfg.FilenamePattern != "" {
		var err error
		filter, err = regexp.Compile(cfg.FilenamePattern)
		if err != nil {
			return nil, fmt.Errorf("invalid filename pattern: %w", err)
		}
	}

	suffix := cfg.TempSuffix
	if suffix == "" {
		suffix = DefaultTempSuffix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Synchronizer{
		opener:       opener,
		remoteDir:    cfg.RemoteDir,
		localDir:     cfg.LocalDir,
		filter:       filter,
		tempSuffix:   suffix,
		deleteRemote: cfg.DeleteRemote,
		logger:       logger,
	}, nil
}

// Sync performs one synchronization cycle and returns the paths of the
// newly completed local files, in remote listing order.
func (s *Synchronizer) Sync(ctx context.Context) ([]string, error) {
	if err := os.MkdirAll(s.localDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating local directory %q: %w", s.localDir, err)
	}

	session, err := s.opener.Open()
	if err != nil {
		return nil, err
	}
	defer session.Close()

	files, err := session.List(s.remoteDir)
	if err != nil {
		return nil, err
	}

	var downloaded []string
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return downloaded, err
		}
		if s.filter != nil && !s.filter.MatchString(f.Name) {
			continue
		}

		local := filepath.Join(s.localDir, f.Name)
		if _, err := os.Stat(local); err == nil {
			continue
		}

		remote := path.Join(s.remoteDir, f.Name)
		if err := s.download(session, remote, local); err != nil {
			return downloaded, err
		}
		s.logger.Debug("downloaded remote file", "remote", remote, "local", local, "size", f.Size)

		if s.deleteRemote {
			if err := session.Delete(remote); err != nil {
				return downloaded, err
			}
		}
		downloaded = append(downloaded, local)
	}
	return downloaded, nil
}

// download streams the remote file to local+tempSuffix and renames it to
// its final name once complete. On failure the temporary file is
// removed.
func (s *Synchronizer) download(session Session, remote, local string) error {
	tmp := local + s.tempSuffix

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %q: %w", tmp, err)
	}

	if err := session.Retrieve(remote, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing %q: %w", tmp, err)
	}

	if err := os.Rename(tmp, local); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %q: %w", tmp, err)
	}
	return nil
}
