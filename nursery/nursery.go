// Package nursery implements the engine's level "-1": a durable
// append-only write-ahead log paired with an in-memory sorted buffer
// that becomes a level-0 file once full (spec §4.6).
package nursery

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/stairsdb/hanoidb/command"
	"github.com/stairsdb/hanoidb/compression"
	"github.com/stairsdb/hanoidb/entry"
	"github.com/stairsdb/hanoidb/memtable"
	"github.com/stairsdb/hanoidb/writer"
)

// LogFile and DataFile are the fixed names nursery state lives under
// within the database directory (spec §6).
const (
	LogFile  = "nursery.log"
	DataFile = "nursery.data"
)

// value is what the in-memory map stores for a live key: either a plain
// value, or a tombstone.
type value struct {
	bytes   []byte
	deleted bool
}

// Nursery owns the WAL and the in-memory sorted map it feeds.
type Nursery struct {
	dir         string
	minLevel    int
	compression compression.Codec
	log         *os.File
	mem         *memtable.SkipList[string, value]
	step        int
	logger      *zap.Logger
}

// capacity is the map-size threshold that triggers a flush to level-0,
// and the basis for the merge-step schedule: 2^minLevel.
func capacity(minLevel int) int {
	return 1 << uint(minLevel)
}

// New opens (and if necessary recovers) the nursery rooted at dir.
// Recovery replays any existing log into a map (last write per key), stages it
// as dir/nursery.data via a Writer, and returns a PromoteFile command
// for the caller to dispatch, alongside the freshly opened log.
func New(dir string, minLevel int, codec compression.Codec, logger *zap.Logger) (*Nursery, []command.Command, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Nursery{
		dir:         dir,
		minLevel:    minLevel,
		compression: codec,
		mem:         memtable.NewSkipListMemtable[string, value](),
		logger:      logger,
	}

	logPath := filepath.Join(dir, LogFile)
	var cmds []command.Command

	if _, err := os.Stat(logPath); err == nil {
		recovered, err := n.replay(logPath)
		if err != nil {
			return nil, nil, fmt.Errorf("nursery: replaying %s: %w", logPath, err)
		}
		if len(recovered) > 0 {
			cmd, err := n.stageMap(recovered)
			if err != nil {
				return nil, nil, err
			}
			cmds = append(cmds, cmd)
		}
		if err := os.Remove(logPath); err != nil {
			return nil, nil, fmt.Errorf("nursery: removing replayed log: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("nursery: stat %s: %w", logPath, err)
	}

	log, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("nursery: opening log: %w", err)
	}
	n.log = log

	return n, cmds, nil
}

// replay reads entries from the log until EOF or the first corruption,
// keeping the last write per key (last-write-wins).
func (n *Nursery) replay(logPath string) (map[string]value, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]value)
	for {
		e, err := entry.Decode(f)
		if err != nil {
			if !errors.Is(err, entry.ErrEndOfFile) {
				n.logger.Warn("nursery: log replay stopped at corrupted entry", zap.Error(err))
			}
			break
		}
		switch e.Kind {
		case entry.KindKeyVal:
			out[string(e.Key)] = value{bytes: e.Value}
		case entry.KindDeleted:
			out[string(e.Key)] = value{deleted: true}
		}
	}
	return out, nil
}

// stageMap writes recovered data (unordered, since it came off a Go map
// during replay) to dir/nursery.data in ascending key order and returns
// the PromoteFile command for it.
func (n *Nursery) stageMap(data map[string]value) (command.Command, error) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	path := filepath.Join(n.dir, DataFile)
	w, err := writer.New(path, len(keys), n.compression)
	if err != nil {
		return command.Command{}, fmt.Errorf("nursery: creating staging writer: %w", err)
	}
	for _, k := range keys {
		if err := w.Add(entryFor(k, data[k])); err != nil {
			return command.Command{}, fmt.Errorf("nursery: staging %q: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return command.Command{}, fmt.Errorf("nursery: closing staging writer: %w", err)
	}
	return command.PromoteFile(path, n.minLevel), nil
}

// entryFor builds the WAL/tree-file entry for a key's current value.
func entryFor(key string, v value) entry.Entry {
	if v.deleted {
		return entry.Deleted([]byte(key), nil)
	}
	return entry.KeyVal([]byte(key), v.bytes, nil)
}

// appendEntry durably writes e to the log: write_all then sync_data,
// before the caller's mutation is acknowledged.
func (n *Nursery) appendEntry(e entry.Entry) error {
	if err := e.Encode(n.log); err != nil {
		return fmt.Errorf("nursery: writing log entry: %w", err)
	}
	if err := n.log.Sync(); err != nil {
		return fmt.Errorf("nursery: syncing log: %w", err)
	}
	return nil
}

// Add records a KeyVal mutation and returns any commands it triggers.
func (n *Nursery) Add(key, val []byte) ([]command.Command, error) {
	if err := n.appendEntry(entry.KeyVal(key, val, nil)); err != nil {
		return nil, err
	}
	n.mem.Put(string(key), value{bytes: val})
	return n.afterWrite()
}

// Delete records a tombstone mutation and returns any commands it
// triggers.
func (n *Nursery) Delete(key []byte) ([]command.Command, error) {
	if err := n.appendEntry(entry.Deleted(key, nil)); err != nil {
		return nil, err
	}
	n.mem.Put(string(key), value{deleted: true})
	return n.afterWrite()
}

// Get consults only the in-memory map: found-and-live returns the
// value; found-and-deleted signals an explicit tombstone via ok=true,
// deleted=true; not found returns ok=false.
func (n *Nursery) Get(key []byte) (val []byte, deleted bool, ok bool) {
	v, found := n.mem.Get(string(key))
	if !found {
		return nil, false, false
	}
	if v.deleted {
		return nil, true, true
	}
	return v.bytes, false, true
}

// afterWrite implements the flush and merge-step accounting of spec
// §4.6 steps 4-5.
func (n *Nursery) afterWrite() ([]command.Command, error) {
	var cmds []command.Command

	if n.mem.Len() >= capacity(n.minLevel) {
		cmd, err := n.flush()
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}

	if n.step+1 >= capacity(n.minLevel)/2 {
		cmds = append(cmds, command.Merge(n.minLevel, n.step+1))
		n.step = 0
	} else {
		n.step++
	}

	return cmds, nil
}

// flush writes the in-memory map to dir/nursery.data, truncates the
// log to zero, and seeks it back to the start; the handle stays open in
// append mode rather than being reopened. The skip list already yields
// keys in ascending order, so it streams straight into the writer
// without an intermediate sort.
func (n *Nursery) flush() (command.Command, error) {
	path := filepath.Join(n.dir, DataFile)
	w, err := writer.New(path, n.mem.Len(), n.compression)
	if err != nil {
		return command.Command{}, fmt.Errorf("nursery: creating staging writer: %w", err)
	}
	for rec := range n.mem.Iterator() {
		if err := w.Add(entryFor(rec.Key, rec.Value)); err != nil {
			return command.Command{}, fmt.Errorf("nursery: staging %q: %w", rec.Key, err)
		}
	}
	if err := w.Close(); err != nil {
		return command.Command{}, fmt.Errorf("nursery: closing staging writer: %w", err)
	}
	cmd := command.PromoteFile(path, n.minLevel)

	n.mem = memtable.NewSkipListMemtable[string, value]()

	if err := n.log.Truncate(0); err != nil {
		return command.Command{}, fmt.Errorf("nursery: truncating log: %w", err)
	}
	if _, err := n.log.Seek(0, io.SeekStart); err != nil {
		return command.Command{}, fmt.Errorf("nursery: seeking log: %w", err)
	}

	return cmd, nil
}

// Close releases the log handle.
func (n *Nursery) Close() error {
	return n.log.Close()
}
