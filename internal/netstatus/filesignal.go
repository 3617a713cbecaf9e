package netstatus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileSignal reads connectivity from a file the host rewrites with
// "online" or "offline". The parent directory is watched so atomic
// replace-by-rename is seen too.
type FileSignal struct {
	path    string
	target  Target
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewFileSignal creates a FileSignal. It must be started with Start.
func NewFileSignal(path string, target Target, logger *zap.Logger) (*FileSignal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	return &FileSignal{
		path:    abs,
		target:  target,
		logger:  logger.Named("filesignal"),
		watcher: watcher,
		done:    make(chan struct{}),
	}, nil
}

// ParseSignal parses file contents. ok is false for anything other than
// "online" or "offline" (case and surrounding whitespace ignored).
func ParseSignal(data []byte) (online, ok bool) {
	switch strings.ToLower(strings.TrimSpace(string(data))) {
	case "online":
		return true, true
	case "offline":
		return false, true
	}
	return false, false
}

// Start applies the file's current contents, if any, and then watches it.
func (fs *FileSignal) Start(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.running {
		return fmt.Errorf("file signal already running")
	}
	if err := fs.watcher.Add(filepath.Dir(fs.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(fs.path), err)
	}
	fs.running = true

	fs.apply(ctx)
	fs.wg.Add(1)
	go fs.processEvents(ctx)
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (fs *FileSignal) Stop() error {
	fs.mu.Lock()
	if !fs.running {
		fs.mu.Unlock()
		return nil
	}
	fs.running = false
	fs.mu.Unlock()

	close(fs.done)
	err := fs.watcher.Close()
	fs.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (fs *FileSignal) processEvents(ctx context.Context) {
	defer fs.wg.Done()
	for {
		select {
		case <-fs.done:
			return
		case <-ctx.Done():
			return
		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fs.path {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				fs.apply(ctx)
			}
		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			fs.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (fs *FileSignal) apply(ctx context.Context) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if !os.IsNotExist(err) {
			fs.logger.Warn("failed to read signal file", zap.String("path", fs.path), zap.Error(err))
		}
		return
	}
	online, ok := ParseSignal(data)
	if !ok {
		// Partial writes show up as empty or truncated content; the
		// following write event carries the full value.
		fs.logger.Debug("ignoring signal file content", zap.String("content", strings.TrimSpace(string(data))))
		return
	}
	if _, err := fs.target.SetOnline(ctx, online); err != nil {
		fs.logger.Debug("signal not applied", zap.Error(err))
	}
}
