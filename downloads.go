package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Suffixes Chromium and friends use while a download is still being written.
var partialSuffixes = []string{".crdownload", ".part", ".tmp"}

// DownloadWatcher observes the download directory. It never writes there.
type DownloadWatcher interface {
	// Watch snapshots the directory; call it before triggering a download.
	Watch() (PendingDownload, error)
	// WaitQuiet returns once no partial files remain, or when bound elapses.
	WaitQuiet(ctx context.Context, bound time.Duration) error
}

// PendingDownload resolves to the first completed file that was not in the snapshot.
type PendingDownload interface {
	Wait(ctx context.Context, timeout time.Duration) (string, error)
	Close() error
}

type DirWatcher struct {
	dir string
	log *logrus.Logger
}

func NewDirWatcher(dir string, log *logrus.Logger) *DirWatcher {
	return &DirWatcher{dir: dir, log: log}
}

func (w *DirWatcher) Watch() (PendingDownload, error) {
	seen, err := completedFiles(w.dir)
	if err != nil {
		return nil, &DownloadError{Dir: w.dir, Err: err}
	}
	// A download still in flight belongs to an earlier click.
	partial, err := partialFiles(w.dir)
	if err != nil {
		return nil, &DownloadError{Dir: w.dir, Err: err}
	}
	for _, name := range partial {
		seen[trimPartial(name)] = true
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &DownloadError{Dir: w.dir, Err: err}
	}
	if err := fsWatcher.Add(w.dir); err != nil {
		_ = fsWatcher.Close()
		return nil, &DownloadError{Dir: w.dir, Err: err}
	}

	return &pendingDownload{
		dir:     w.dir,
		log:     w.log,
		watcher: fsWatcher,
		seen:    seen,
	}, nil
}

func (w *DirWatcher) WaitQuiet(ctx context.Context, bound time.Duration) error {
	partial, err := partialFiles(w.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil || len(partial) == 0 {
		return err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsWatcher.Close()
	if err := fsWatcher.Add(w.dir); err != nil {
		return err
	}

	timer := time.NewTimer(bound)
	defer timer.Stop()

	for {
		// Re-check after subscribing so a rename that raced Add is not missed.
		partial, err = partialFiles(w.dir)
		if err != nil {
			return err
		}
		if len(partial) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: %d partial downloads left: %s", ErrWaitTimeout, len(partial), strings.Join(partial, ", "))
		case _, ok := <-fsWatcher.Events:
			if !ok {
				return errors.New("download watcher closed")
			}
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return errors.New("download watcher closed")
			}
			w.log.WithError(err).Warn("download watcher error")
		}
	}
}

type pendingDownload struct {
	dir     string
	log     *logrus.Logger
	watcher *fsnotify.Watcher
	seen    map[string]bool
}

func (p *pendingDownload) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		name, err := p.newCompletedFile()
		if err != nil {
			return "", &DownloadError{Dir: p.dir, Err: err}
		}
		if name != "" {
			return name, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", &DownloadError{Dir: p.dir, Err: fmt.Errorf("%w: no new file after %s", ErrWaitTimeout, timeout)}
		case event, ok := <-p.watcher.Events:
			if !ok {
				return "", &DownloadError{Dir: p.dir, Err: errors.New("watcher closed")}
			}
			p.log.WithField("event", event.String()).Debug("download dir event")
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return "", &DownloadError{Dir: p.dir, Err: errors.New("watcher closed")}
			}
			p.log.WithError(err).Warn("download watcher error")
		}
	}
}

func (p *pendingDownload) Close() error {
	return p.watcher.Close()
}

func (p *pendingDownload) newCompletedFile() (string, error) {
	current, err := completedFiles(p.dir)
	if err != nil {
		return "", err
	}
	for name := range current {
		if !p.seen[name] {
			return filepath.Join(p.dir, name), nil
		}
	}
	return "", nil
}

// completedFiles lists non-empty regular files that are not partial and
// have no partial sibling still being written.
func completedFiles(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make(map[string]bool, len(entries))
	for _, entry := range entries {
		names[entry.Name()] = true
	}

	files := make(map[string]bool)
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || isPartial(name) || hasPartialSibling(name, names) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		files[name] = true
	}
	return files, nil
}

func partialFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var partial []string
	for _, entry := range entries {
		if isPartial(entry.Name()) {
			partial = append(partial, entry.Name())
		}
	}
	return partial, nil
}

func isPartial(name string) bool {
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// trimPartial strips the in-progress suffix: "a.pdf.crdownload" -> "a.pdf".
func trimPartial(name string) string {
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}

func hasPartialSibling(name string, names map[string]bool) bool {
	for _, suffix := range partialSuffixes {
		if names[name+suffix] {
			return true
		}
	}
	return false
}
