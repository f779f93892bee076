package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/joseph-ayodele/doc-enricher/constants"
)

type WatchConfig struct {
	Roots       []string // directories to watch (recursive)
	AllowedExts map[string]struct{}
	InitialScan bool          // if true, walk roots and emit existing files
	Debounce    time.Duration // coalesce rapid update/rename bursts
	Logger      *slog.Logger
}

// StartWatcher emits paths of created or modified text files under the
// roots until ctx is done. Both channels are closed on exit.
func StartWatcher(ctx context.Context, cfg WatchConfig) (<-chan string, <-chan error, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if len(cfg.Roots) == 0 {
		log.Error("watcher start failed: no roots provided")
		return nil, nil, errors.New("no roots provided")
	}
	if cfg.AllowedExts == nil {
		cfg.AllowedExts = constants.AllowedExtensions
	}
	evCh := make(chan string, 256)
	errCh := make(chan error, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}

	// Add roots recursively
	addDir := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if path != root && IsHidden(path) {
					return filepath.SkipDir
				}
				return w.Add(path)
			}
			if cfg.InitialScan && allowed(path, cfg.AllowedExts) && !IsHidden(path) {
				select {
				case evCh <- path:
				default:
					log.Warn("watcher.initial_scan.dropped", "path", path)
				}
			}
			return nil
		})
	}
	for _, r := range cfg.Roots {
		if err := addDir(r); err != nil {
			log.Error("failed to add root directory", "root", r, "error", err)
			_ = w.Close()
			return nil, nil, err
		}
	}

	go func() {
		var (
			mu      sync.Mutex
			timer   *time.Timer
			pending = map[string]struct{}{}
			done    bool
		)

		sendPending := func() {
			mu.Lock()
			defer mu.Unlock()
			if done {
				return
			}
			for p := range pending {
				select {
				case evCh <- p:
				default:
					log.Warn("watcher.event.dropped", "path", p)
				}
				delete(pending, p)
			}
		}

		defer func() {
			mu.Lock()
			done = true
			if timer != nil {
				timer.Stop()
			}
			close(evCh)
			close(errCh)
			mu.Unlock()
			if err := w.Close(); err != nil {
				log.Warn("failed to close watcher", "error", err)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				// Track new dirs
				if e.Op&fsnotify.Create == fsnotify.Create {
					tryAddDir(w, e.Name, log)
				}

				if allowed(e.Name, cfg.AllowedExts) && !IsHidden(e.Name) && (e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename)) != 0 {
					mu.Lock()
					pending[e.Name] = struct{}{}
					if cfg.Debounce > 0 {
						if timer != nil {
							timer.Stop()
						}
						timer = time.AfterFunc(cfg.Debounce, sendPending)
					}
					mu.Unlock()
					if cfg.Debounce <= 0 {
						sendPending()
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Error("watcher error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

func allowed(path string, exts map[string]struct{}) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	_, ok := exts[ext]
	return ok
}

// tryAddDir starts watching path when it is a newly created directory.
func tryAddDir(w *fsnotify.Watcher, path string, log *slog.Logger) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.Add(path); err != nil {
		log.Warn("failed to add new directory to watcher", "path", path, "error", err)
	}
}
