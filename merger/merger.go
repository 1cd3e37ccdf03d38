// Package merger implements the two-way sorted merge that folds a
// level's A and B files into a single next-generation file (spec §4.8).
package merger

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/stairsdb/hanoidb/compression"
	"github.com/stairsdb/hanoidb/entry"
	"github.com/stairsdb/hanoidb/tree"
	"github.com/stairsdb/hanoidb/writer"
)

// OutputFile is the name of the level's in-progress merge output,
// relative to the level's directory.
func OutputFile(level int) string {
	return fmt.Sprintf("X-%d.data", level)
}

// cursor is a peekable walk over one tree's leaf entries.
type cursor struct {
	entries []entry.Entry
	pos     int
}

func newCursor(t *tree.Tree) (*cursor, error) {
	entries, err := t.Entries()
	if err != nil {
		return nil, err
	}
	return &cursor{entries: entries}, nil
}

func (c *cursor) peek() (entry.Entry, bool) {
	if c.pos >= len(c.entries) {
		return entry.Entry{}, false
	}
	return c.entries[c.pos], true
}

func (c *cursor) advance() {
	c.pos++
}

// Merger drives the A/B merge into X-L.data, one bounded batch of steps
// at a time.
type Merger struct {
	a, b    *cursor
	out     *writer.Writer
	outPath string
}

// New opens a fresh merger over aTree (older) and bTree (newer),
// creating X-level.data in dir as the output file.
func New(dir string, level int, aTree, bTree *tree.Tree) (*Merger, error) {
	aCur, err := newCursor(aTree)
	if err != nil {
		return nil, fmt.Errorf("merger: reading A entries: %w", err)
	}
	bCur, err := newCursor(bTree)
	if err != nil {
		return nil, fmt.Errorf("merger: reading B entries: %w", err)
	}

	outPath := filepath.Join(dir, OutputFile(level))
	expected := len(aCur.entries) + len(bCur.entries)
	w, err := writer.New(outPath, expected, compression.None)
	if err != nil {
		return nil, fmt.Errorf("merger: creating %s: %w", outPath, err)
	}

	return &Merger{a: aCur, b: bCur, out: w, outPath: outPath}, nil
}

// Outcome describes the result of one IncrementalMerge call.
type Outcome struct {
	// Done is false when the merge has more work left; the caller should
	// stash m and call IncrementalMerge again later.
	Done bool

	// Fields below are only meaningful when Done is true.
	Count int
	Steps int
}

// IncrementalMerge performs up to steps compare-and-emit operations.
func (m *Merger) IncrementalMerge(steps int) (Outcome, error) {
	executed := 0

	for executed < steps {
		av, aok := m.a.peek()
		bv, bok := m.b.peek()

		switch {
		case !aok && !bok:
			if err := m.out.Close(); err != nil {
				return Outcome{}, fmt.Errorf("merger: closing %s: %w", m.outPath, err)
			}
			return Outcome{Done: true, Count: m.out.Count(), Steps: executed}, nil

		case !bok:
			if err := m.out.Add(av); err != nil {
				return Outcome{}, fmt.Errorf("merger: emitting A entry: %w", err)
			}
			m.a.advance()
			executed++

		case !aok:
			if err := m.out.Add(bv); err != nil {
				return Outcome{}, fmt.Errorf("merger: emitting B entry: %w", err)
			}
			m.b.advance()
			executed++

		default:
			cmp := bytes.Compare(av.Key, bv.Key)
			switch {
			case cmp < 0:
				if err := m.out.Add(av); err != nil {
					return Outcome{}, fmt.Errorf("merger: emitting A entry: %w", err)
				}
				m.a.advance()
				executed++
			case cmp > 0:
				if err := m.out.Add(bv); err != nil {
					return Outcome{}, fmt.Errorf("merger: emitting B entry: %w", err)
				}
				m.b.advance()
				executed++
			default:
				// Same key in both generations: B is newer, A is discarded.
				if err := m.out.Add(bv); err != nil {
					return Outcome{}, fmt.Errorf("merger: emitting B entry: %w", err)
				}
				m.a.advance()
				m.b.advance()
				executed += 2
			}
		}
	}

	return Outcome{Done: false}, nil
}
