package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a file must stay quiet before it is announced.
const DefaultSettle = 200 * time.Millisecond

// DirStore keeps objects as files under a root directory. Keys are
// slash-separated paths relative to the root.
type DirStore struct {
	root   string
	settle time.Duration
	logger *slog.Logger
}

var (
	_ Store   = (*DirStore)(nil)
	_ Watcher = (*DirStore)(nil)
)

// DirOption configures a DirStore.
type DirOption func(*DirStore)

// WithSettle sets the quiet period before a changed file is announced.
func WithSettle(d time.Duration) DirOption {
	return func(s *DirStore) {
		if d > 0 {
			s.settle = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) DirOption {
	return func(s *DirStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewDirStore opens root, creating it if needed.
func NewDirStore(root string, opts ...DirOption) (*DirStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	s := &DirStore{root: abs, settle: DefaultSettle, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "blob-dir", "root", abs)
	return s, nil
}

// Root returns the absolute root directory.
func (s *DirStore) Root() string {
	return s.root
}

func (s *DirStore) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || strings.Contains(key, "\\") || clean[1:] != strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean[1:])), nil
}

func (s *DirStore) key(p string) (string, bool) {
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Get reads the object stored under key.
func (s *DirStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return data, err
}

// Put writes data under key, replacing any existing object. The file is
// written to a temporary name and renamed so watchers never see partial content.
func (s *DirStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// List returns every key in lexical order. Hidden files are skipped.
func (s *DirStore) List(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p != s.root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			if k, ok := s.key(p); ok {
				keys = append(keys, k)
			}
		}
		return nil
	})
	sort.Strings(keys)
	return keys, err
}

// Watch announces files created or rewritten under the root, including in
// subdirectories created after the watch starts. Each file is announced once
// it has been quiet for the settle period.
func (s *DirStore) Watch(ctx context.Context) (<-chan Notification, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := s.addTree(watcher, s.root); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	out := make(chan Notification, 16)
	go s.watchLoop(ctx, watcher, out)
	return out, nil
}

func (s *DirStore) addTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != s.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}

func (s *DirStore) watchLoop(ctx context.Context, w *fsnotify.Watcher, out chan<- Notification) {
	defer close(out)
	defer w.Close()

	pending := make(map[string]time.Time)
	tick := time.NewTicker(s.settle / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if err := s.addTree(w, event.Name); err != nil {
					s.logger.Warn("failed to watch new directory", "dir", event.Name, "err", err)
				}
				s.pendTree(event.Name, pending)
				continue
			}
			pending[event.Name] = time.Now()

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watch error", "err", err)

		case now := <-tick.C:
			for p, last := range pending {
				if now.Sub(last) < s.settle {
					continue
				}
				delete(pending, p)
				n, ok := s.notification(p)
				if !ok {
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// pendTree queues files that appeared inside a new directory before it was watched.
func (s *DirStore) pendTree(dir string, pending map[string]time.Time) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() && !strings.HasPrefix(d.Name(), ".") {
			pending[p] = time.Now()
		}
		return nil
	})
}

func (s *DirStore) notification(p string) (Notification, bool) {
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return Notification{}, false
	}
	key, ok := s.key(p)
	if !ok {
		return Notification{}, false
	}
	return Notification{Key: key, Size: info.Size(), At: info.ModTime()}, true
}
