package badger

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/poiesic/conductor/core"
	"github.com/poiesic/conductor/storage"
)

// DefaultGCDiscardRatio is the stale fraction a value log file needs before
// CollectGarbage rewrites it.
const DefaultGCDiscardRatio = 0.5

// Backend owns the badger database shared by the knowledge store, dead
// letters and cache entries.
type Backend struct {
	db       *badger.DB
	inMemory bool
	logger   *slog.Logger
}

// BackendOption configures OpenBackend.
type BackendOption func(*badger.Options, *slog.Logger) *slog.Logger

// WithBackendLogger routes badger's own log lines to logger.
func WithBackendLogger(logger *slog.Logger) BackendOption {
	return func(_ *badger.Options, current *slog.Logger) *slog.Logger {
		if logger == nil {
			return current
		}
		return logger
	}
}

// WithCompression sets block compression. Default is none; chunk text is
// small and vectors barely compress.
func WithCompression(c options.CompressionType) BackendOption {
	return func(o *badger.Options, current *slog.Logger) *slog.Logger {
		o.Compression = c
		return current
	}
}

// slogAdapter satisfies badger.Logger. Badger logs compaction progress at
// info, which is demoted to debug here.
type slogAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*slogAdapter)(nil)

func (a *slogAdapter) Errorf(msg string, items ...any) {
	a.logger.Error(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (a *slogAdapter) Warningf(msg string, items ...any) {
	a.logger.Warn(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (a *slogAdapter) Infof(msg string, items ...any) {
	a.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (a *slogAdapter) Debugf(msg string, items ...any) {
	a.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

// OpenBackend opens the database directory at path, creating it if needed.
// inMemory ignores path.
func OpenBackend(path string, inMemory bool, opts ...BackendOption) (*Backend, error) {
	var bopts badger.Options
	if inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		bopts = badger.DefaultOptions(path)
	}
	bopts.Compression = options.None

	logger := slog.Default()
	for _, opt := range opts {
		logger = opt(&bopts, logger)
	}
	logger = logger.With("component", "badger")
	bopts.Logger = &slogAdapter{logger: logger}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &Backend{db: db, inMemory: inMemory, logger: logger}, nil
}

func ensureDir(path string) error {
	if path == "" {
		return fmt.Errorf("%w: database path is empty", core.ErrValidation)
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return os.MkdirAll(path, 0o755)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// IsClosed returns true if the database is closed.
func (b *Backend) IsClosed() bool {
	return b.db.IsClosed()
}

// CollectGarbage rewrites value log files whose stale fraction exceeds
// ratio until none is left. In-memory databases have no value log.
func (b *Backend) CollectGarbage(ratio float64) (int, error) {
	if b.inMemory {
		return 0, nil
	}
	if b.IsClosed() {
		return 0, storage.ErrStorageClosed
	}
	rewritten := 0
	for {
		err := b.db.RunValueLogGC(ratio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			break
		}
		if err != nil {
			return rewritten, err
		}
		rewritten++
	}
	if rewritten > 0 {
		b.logger.Info("value log garbage collected", "files", rewritten)
	}
	return rewritten, nil
}

// WithTx runs fn in a transaction that is discarded when fn returns. Write
// transactions must be committed by fn.
func (b *Backend) WithTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	if b.IsClosed() {
		return storage.ErrStorageClosed
	}
	tx := b.db.NewTransaction(isWrite)
	defer tx.Discard()
	return fn(tx)
}

// WriteBatch applies fn to a write batch and flushes it. Batches split
// themselves across transactions, so they suit writes of unbounded size.
func (b *Backend) WriteBatch(fn func(wb *badger.WriteBatch) error) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	if err := fn(wb); err != nil {
		return err
	}
	return wb.Flush()
}

// scanPrefix calls fn for every key with the given prefix, in key order.
func scanPrefix(tx *badger.Txn, prefix []byte, fn func(item *badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		if err := fn(iter.Item()); err != nil {
			return err
		}
	}
	return nil
}

// scanKeys is scanPrefix without value prefetching.
func scanKeys(tx *badger.Txn, prefix []byte, fn func(key []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		if err := fn(iter.Item().KeyCopy(nil)); err != nil {
			return err
		}
	}
	return nil
}
