// Package signals lets another process stop a running research task by
// dropping a file into the .roundtable/signals directory.
package signals

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ShayCichocki/roundtable/internal/logging"
)

const (
	// DirName is the per-project state directory.
	DirName = ".roundtable"
	// StopFile is the name of the stop signal file inside signals/.
	StopFile = "stop"
)

// ErrStopRequested is the cancellation cause after a stop signal.
var ErrStopRequested = errors.New("stop requested via signal file")

// pollInterval is used when fsnotify is unavailable.
const pollInterval = 500 * time.Millisecond

// Watcher reports stop signals for one project directory.
type Watcher struct {
	dir    string
	logger *zap.SugaredLogger

	stopped  chan struct{}
	stopOnce sync.Once

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dir returns the signals directory under root.
func Dir(root string) string {
	return filepath.Join(root, DirName, "signals")
}

// New watches the signals directory under root, creating it if needed. A stop
// file left over from an earlier run is removed first.
func New(root string, logger *zap.SugaredLogger) (*Watcher, error) {
	dir := Dir(root)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if err := os.Remove(filepath.Join(dir, StopFile)); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	w := &Watcher{
		dir:     dir,
		logger:  logging.OrDefault(logger),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}

	fw, err := fsnotify.NewWatcher()
	if err == nil {
		if err = fw.Add(dir); err != nil {
			fw.Close()
		}
	}
	if err != nil {
		w.logger.Debugw("fsnotify unavailable, polling for signals", "dir", dir, "error", err)
		w.wg.Add(1)
		go w.poll()
		return w, nil
	}

	w.watcher = fw
	w.wg.Add(1)
	go w.watch()
	return w, nil
}

func (w *Watcher) watch() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) == StopFile && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.trigger()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Debugw("signal watcher error", "error", err)
		}
	}
}

func (w *Watcher) poll() {
	defer w.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if w.stopFilePresent() {
				w.trigger()
			}
		}
	}
}

func (w *Watcher) trigger() {
	w.stopOnce.Do(func() {
		w.logger.Infow("stop signal received", "dir", w.dir)
		close(w.stopped)
	})
}

func (w *Watcher) stopFilePresent() bool {
	_, err := os.Stat(filepath.Join(w.dir, StopFile))
	return err == nil
}

// Stopped is closed once a stop signal arrives.
func (w *Watcher) Stopped() <-chan struct{} {
	return w.stopped
}

// ShouldStop reports whether a stop signal has arrived. It also checks the
// file directly in case an event was missed.
func (w *Watcher) ShouldStop() bool {
	if w.stopFilePresent() {
		w.trigger()
	}
	select {
	case <-w.stopped:
		return true
	default:
		return false
	}
}

// Context returns a child of parent that is canceled with ErrStopRequested
// when a stop signal arrives.
func (w *Watcher) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		select {
		case <-w.stopped:
			cancel(ErrStopRequested)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

// SendStop writes the stop file under root, signalling any watcher there.
func SendStop(root string) error {
	dir := Dir(root)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, StopFile), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Close stops watching and removes the stop file.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		if w.watcher != nil {
			err = w.watcher.Close()
		}
		w.wg.Wait()
		if rmErr := os.Remove(filepath.Join(w.dir, StopFile)); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = rmErr
		}
	})
	return err
}
