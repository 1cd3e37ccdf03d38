// Package hanoidb implements an embedded, single-writer, ordered
// key-value storage engine organized as a log-structured merge
// hierarchy of immutable sorted tree files with doubling capacity per
// level: a "stairs of Hanoi" arrangement.
//
// A DB is not safe for concurrent use from multiple goroutines; it is
// designed around a single logical owner driving all mutations, with
// incremental background merge work interleaved synchronously into
// every write so no single operation stalls on a full merge.
package hanoidb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/stairsdb/hanoidb/command"
	"github.com/stairsdb/hanoidb/entry"
	"github.com/stairsdb/hanoidb/level"
	"github.com/stairsdb/hanoidb/nursery"
)

// DB is a handle on one hanoidb directory.
type DB struct {
	dir      string
	minLevel int
	maxLevel int
	workUnit int

	nursery *nursery.Nursery
	levels  map[int]*level.Level

	logger  *zap.Logger
	metrics *dbMetrics
}

// Open opens (creating if necessary) the database rooted at dir, using
// the default options (min_level=10, max_level=25, compression=None).
func Open(dir string, opts ...Option) (*DB, error) {
	o := defaultOptions()
	for _, apply := range opts {
		apply(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("hanoidb: creating %s: %w", dir, err)
	}

	n, recoveryCmds, err := nursery.New(dir, o.minLevel, o.compression, o.logger)
	if err != nil {
		return nil, fmt.Errorf("hanoidb: opening nursery: %w", err)
	}

	db := &DB{
		dir:      dir,
		minLevel: o.minLevel,
		maxLevel: o.maxLevel,
		workUnit: (1 << uint(o.minLevel)) / 2,
		nursery:  n,
		levels:   make(map[int]*level.Level),
		logger:   o.logger,
		metrics:  newMetrics(o.registerer, dir),
	}

	if err := db.drain(recoveryCmds); err != nil {
		return nil, fmt.Errorf("hanoidb: replaying recovery commands: %w", err)
	}

	return db, nil
}

// Path returns the directory this database was opened against.
func (db *DB) Path() string {
	return db.dir
}

// Insert durably writes key -> value, then performs whatever bounded
// amount of flush/merge work that write triggers before returning.
func (db *DB) Insert(key, value []byte) error {
	cmds, err := db.nursery.Add(key, value)
	if err != nil {
		return fmt.Errorf("hanoidb: insert: %w", err)
	}
	return db.drain(cmds)
}

// Delete writes a tombstone for key.
func (db *DB) Delete(key []byte) error {
	cmds, err := db.nursery.Delete(key)
	if err != nil {
		return fmt.Errorf("hanoidb: delete: %w", err)
	}
	return db.drain(cmds)
}

// Get looks up key: the nursery first, then each level in ascending
// order, returning the first hit.
func (db *DB) Get(key []byte) ([]byte, error) {
	if val, deleted, ok := db.nursery.Get(key); ok {
		if deleted {
			return nil, ErrNotFound
		}
		return val, nil
	}

	for l := db.minLevel; l <= db.maxLevel; l++ {
		lvl, err := db.level(l)
		if err != nil {
			return nil, err
		}
		e, err := lvl.GetEntry(key)
		if err != nil {
			return nil, fmt.Errorf("hanoidb: get: %w", err)
		}
		if e == nil {
			continue
		}
		switch e.Kind {
		case entry.KindKeyVal:
			return e.Value, nil
		case entry.KindDeleted:
			return nil, ErrNotFound
		default:
			return nil, fmt.Errorf("%w: PosLen entry surfaced from level %d", ErrInvariantViolation, l)
		}
	}

	return nil, ErrNotFound
}

// Close releases the nursery log and every open level file handle.
func (db *DB) Close() error {
	var firstErr error
	for _, lvl := range db.levels {
		if err := lvl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := db.nursery.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// level returns the Level for num, opening it on first reference.
func (db *DB) level(num int) (*level.Level, error) {
	if lvl, ok := db.levels[num]; ok {
		return lvl, nil
	}
	lvl, err := level.New(db.dir, num)
	if err != nil {
		return nil, fmt.Errorf("hanoidb: opening level %d: %w", num, err)
	}
	db.levels[num] = lvl
	return lvl, nil
}

// drain runs the FIFO command queue to exhaustion. Commands produced by
// a dispatched step are appended to the back of the queue, matching the
// orchestrator's non-recursive dispatch design (spec §4.9, §9).
func (db *DB) drain(cmds []command.Command) error {
	queue := append([]command.Command(nil), cmds...)

	for len(queue) > 0 {
		cmd := queue[0]
		queue = queue[1:]

		more, err := db.dispatch(cmd)
		if err != nil {
			return err
		}
		queue = append(queue, more...)
	}
	return nil
}

func (db *DB) dispatch(cmd command.Command) ([]command.Command, error) {
	switch cmd.Kind {
	case command.PromoteFileKind:
		lvl, err := db.level(cmd.TargetLevel)
		if err != nil {
			return nil, err
		}
		if err := lvl.PromoteFile(cmd.Path); err != nil {
			if errors.Is(err, level.ErrLevelFull) {
				db.logger.Warn("level full, dropping promotion",
					zap.Int("level", cmd.TargetLevel), zap.String("path", cmd.Path))
				return nil, fmt.Errorf("hanoidb: promoting %s to level %d: %w", cmd.Path, cmd.TargetLevel, err)
			}
			return nil, fmt.Errorf("hanoidb: promoting %s: %w", cmd.Path, err)
		}
		db.metrics.observePromote()
		if cmd.TargetLevel == db.minLevel {
			db.metrics.observeFlush()
		}
		db.logger.Debug("promoted file", zap.Int("level", cmd.TargetLevel), zap.String("path", filepath.Base(cmd.Path)))
		return nil, nil

	case command.MergeKind:
		if cmd.Level > db.maxLevel {
			return nil, nil
		}
		lvl, err := db.level(cmd.Level)
		if err != nil {
			return nil, err
		}
		more, completed, err := lvl.Merge(cmd.Steps, db.workUnit, db.minLevel, db.maxLevel)
		if err != nil {
			return nil, fmt.Errorf("hanoidb: merging level %d: %w", cmd.Level, err)
		}
		db.metrics.observeMergeSteps(db.workUnit)
		if completed {
			db.metrics.observeMergeComplete()
		}
		return more, nil

	default:
		return nil, fmt.Errorf("hanoidb: unknown command kind %v", cmd.Kind)
	}
}
