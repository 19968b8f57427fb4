package localstore

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jara-app/rewards-gateway/internal/config"
	"github.com/jara-app/rewards-gateway/pkg/logger"
)

// BadgerConfig holds options for the badger-backed store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory disables disk persistence.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration
}

// DefaultBadgerConfig returns production defaults for path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:       path,
		SyncWrites: true,
		GCInterval: 10 * time.Minute,
	}
}

// InMemoryBadgerConfig returns a configuration for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// BadgerStore persists device state in an embedded badger database.
type BadgerStore struct {
	db   *badger.DB
	log  *logger.Logger
	stop chan struct{}
	done chan struct{}
}

var _ Store = (*BadgerStore)(nil)

// badgerLogger routes badger's internal logs through the gateway logger.
type badgerLogger struct {
	log *logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

// OpenBadger opens (creating if needed) a badger store.
func OpenBadger(cfg BadgerConfig, log *logger.Logger) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent local store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create local store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{log: log.Component("badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	s := &BadgerStore{
		db:   db,
		log:  log.Component("localstore"),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		go s.gcLoop(cfg.GCInterval)
	} else {
		close(s.done)
	}

	log.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Msg("Local store opened")
	return s, nil
}

// Open opens the store described by the gateway configuration.
func Open(cfg *config.LocalStoreConfig, log *logger.Logger) (Store, error) {
	if cfg.InMemory {
		return NewMemoryStore(), nil
	}
	return OpenBadger(DefaultBadgerConfig(cfg.Path), log)
}

func (s *BadgerStore) gcLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite when there is nothing to collect.
			for s.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

// Device returns deviceID's namespace.
func (s *BadgerStore) Device(deviceID string) KV {
	return &badgerKV{db: s.db, deviceID: deviceID}
}

// Close stops GC and closes the database.
func (s *BadgerStore) Close() error {
	close(s.stop)
	<-s.done
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close local store: %w", err)
	}
	return nil
}

type badgerKV struct {
	db       *badger.DB
	deviceID string
}

func (k *badgerKV) Get(key string) ([]byte, bool, error) {
	var out []byte
	err := k.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(deviceKey(k.deviceID, key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return out, true, nil
}

func (k *badgerKV) Set(key string, value []byte) error {
	err := k.db.Update(func(txn *badger.Txn) error {
		return txn.Set(deviceKey(k.deviceID, key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (k *badgerKV) Delete(key string) error {
	err := k.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(deviceKey(k.deviceID, key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
