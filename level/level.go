// Package level manages the up-to-three stable files at one step of the
// LSM hierarchy and drives that level's in-progress merger, if any
// (spec §4.7).
package level

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stairsdb/hanoidb/command"
	"github.com/stairsdb/hanoidb/entry"
	"github.com/stairsdb/hanoidb/merger"
	"github.com/stairsdb/hanoidb/tree"
)

// ErrLevelFull is returned by PromoteFile when all three of A, B, C are
// already occupied; the orchestrator must not dispatch further
// promotions to a full level.
var ErrLevelFull = errors.New("level: all file slots occupied")

// slot identifies one of the three stable file roles a level holds.
type slot int

const (
	slotA slot = iota
	slotB
	slotC
)

func (s slot) letter() string {
	return [...]string{"A", "B", "C"}[s]
}

func fileName(l slot, level int) string {
	return fmt.Sprintf("%s-%d.data", l.letter(), level)
}

// Level owns at most three stable files plus one in-progress merger.
type Level struct {
	dir   string
	num   int
	trees [3]*tree.Tree // indexed by slot
	m     *merger.Merger
}

// New probes dir for {A,B,C}-num.data, opening whichever exist, and
// instantiates a merger immediately if both A and B are present (so a
// crash mid-merge resumes on the next open). It also finishes any
// M-num.data left behind by a crash between the X->M rename and the
// M->A rename of a completed merge (spec §4.7).
func New(dir string, num int) (*Level, error) {
	lvl := &Level{dir: dir, num: num}

	if err := lvl.recoverStagedMerge(); err != nil {
		return nil, err
	}

	for s := slotA; s <= slotC; s++ {
		path := filepath.Join(dir, fileName(s, num))
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("level: stat %s: %w", path, err)
		}
		t, err := tree.Open(path)
		if err != nil {
			return nil, fmt.Errorf("level: opening %s: %w", path, err)
		}
		lvl.trees[s] = t
	}

	if lvl.trees[slotA] != nil && lvl.trees[slotB] != nil {
		m, err := merger.New(dir, num, lvl.trees[slotA], lvl.trees[slotB])
		if err != nil {
			return nil, fmt.Errorf("level: resuming merge: %w", err)
		}
		lvl.m = m
	}

	return lvl, nil
}

// recoverStagedMerge completes a pending M-num.data -> A-num.data
// rename, if one was interrupted by a crash. M is created before A and
// B are removed, so either may still be on disk: the rename replaces A,
// and a leftover B is not removed here; New then opens it alongside the
// new A and merges the two again.
func (l *Level) recoverStagedMerge() error {
	mPath := filepath.Join(l.dir, fmt.Sprintf("M-%d.data", l.num))
	if _, err := os.Stat(mPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("level: stat %s: %w", mPath, err)
	}

	aPath := filepath.Join(l.dir, fileName(slotA, l.num))
	if err := os.Rename(mPath, aPath); err != nil {
		return fmt.Errorf("level: recovering staged merge output: %w", err)
	}
	return nil
}

// GetEntry consults C, then B, then A (newest first), returning the
// first hit (live value or tombstone). Each file's bloom filter is
// checked first: a miss there is definitive and skips the descent
// entirely (spec §4.4 step 1).
func (l *Level) GetEntry(key []byte) (*entry.Entry, error) {
	for _, s := range [...]slot{slotC, slotB, slotA} {
		t := l.trees[s]
		if t == nil || !t.MightContain(key) {
			continue
		}
		e, err := t.Lookup(key)
		if err != nil {
			return nil, fmt.Errorf("level: looking up in slot %s: %w", s.letter(), err)
		}
		if e != nil {
			return e, nil
		}
	}
	return nil, nil
}

// PromoteFile renames incomingPath into the first free slot among A, B,
// C and opens it. If both A and B end up occupied as a result, a merger
// is started.
func (l *Level) PromoteFile(incomingPath string) error {
	target := -1
	for s := slotA; s <= slotC; s++ {
		if l.trees[s] == nil {
			target = int(s)
			break
		}
	}
	if target == -1 {
		return ErrLevelFull
	}

	dest := filepath.Join(l.dir, fileName(slot(target), l.num))
	if err := os.Rename(incomingPath, dest); err != nil {
		return fmt.Errorf("level: promoting %s: %w", incomingPath, err)
	}
	t, err := tree.Open(dest)
	if err != nil {
		return fmt.Errorf("level: opening promoted file %s: %w", dest, err)
	}
	l.trees[target] = t

	if slot(target) == slotB && l.trees[slotA] != nil && l.m == nil {
		m, err := merger.New(l.dir, l.num, l.trees[slotA], l.trees[slotB])
		if err != nil {
			return fmt.Errorf("level: starting merge: %w", err)
		}
		l.m = m
	}

	return nil
}

// Merge advances this level's merge work (or forwards it untouched if
// there is no in-progress merger at this level) per the accounting of
// spec §4.7. The returned bool reports whether this call drove the
// in-progress merge to completion.
func (l *Level) Merge(workCompleted, workUnit, minLevel, maxLevel int) ([]command.Command, bool, error) {
	if l.m == nil {
		return []command.Command{command.Merge(l.num+1, workCompleted)}, false, nil
	}

	workLeftHere := 2 * (1 << uint(l.num))
	depth := maxLevel - minLevel + 1
	workUnitsLeft := depth*workUnit - workCompleted
	if workUnitsLeft < 0 {
		workUnitsLeft = 0
	}
	steps := min(workLeftHere, workUnitsLeft)
	if steps == 0 {
		return nil, false, nil
	}

	outcome, err := l.m.IncrementalMerge(steps)
	if err != nil {
		return nil, false, fmt.Errorf("level: merging: %w", err)
	}

	if !outcome.Done {
		return []command.Command{command.Merge(l.num+1, workCompleted+steps)}, false, nil
	}

	cmds, err := l.completeMerge(outcome, workCompleted, steps)
	return cmds, true, err
}

// completeMerge disposes of X according to its count, and of A and B,
// then continues propagation to the next level. The count<=capacity
// case stages X under the recoverable name M *before* A and B are
// touched, so a crash at any point still leaves either the pre-merge
// files (A, B) or the post-merge file (M or A) on disk, never neither.
func (l *Level) completeMerge(outcome merger.Outcome, workCompleted, steps int) ([]command.Command, error) {
	outPath := filepath.Join(l.dir, merger.OutputFile(l.num))
	l.m = nil

	var cmds []command.Command
	capacity := 1 << uint(l.num)

	switch {
	case outcome.Count == 0:
		if err := os.Remove(outPath); err != nil {
			return nil, fmt.Errorf("level: removing empty merge output: %w", err)
		}
		if err := l.closeAndRemove(slotA); err != nil {
			return nil, err
		}
		if err := l.closeAndRemove(slotB); err != nil {
			return nil, err
		}
		if err := l.promoteCtoA(); err != nil {
			return nil, err
		}

	case outcome.Count <= capacity:
		mPath := filepath.Join(l.dir, fmt.Sprintf("M-%d.data", l.num))
		if err := os.Rename(outPath, mPath); err != nil {
			return nil, fmt.Errorf("level: staging merge output: %w", err)
		}
		if err := l.closeAndRemove(slotA); err != nil {
			return nil, err
		}
		if err := l.closeAndRemove(slotB); err != nil {
			return nil, err
		}
		if err := l.rotateInPlace(mPath); err != nil {
			return nil, err
		}
		if err := l.promoteCtoB(); err != nil {
			return nil, err
		}

	default:
		if err := l.closeAndRemove(slotA); err != nil {
			return nil, err
		}
		if err := l.closeAndRemove(slotB); err != nil {
			return nil, err
		}
		cmds = append(cmds, command.PromoteFile(outPath, l.num+1))
	}

	cmds = append(cmds, command.Merge(l.num+1, workCompleted+steps-outcome.Steps))
	return cmds, nil
}

func (l *Level) closeAndRemove(s slot) error {
	t := l.trees[s]
	if t == nil {
		return nil
	}
	path := t.Path()
	if err := t.Close(); err != nil {
		return fmt.Errorf("level: closing slot %s: %w", s.letter(), err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("level: removing %s: %w", path, err)
	}
	l.trees[s] = nil
	return nil
}

// rotateInPlace renames the already-staged M file into A and reopens
// it. M is only renamed away once A and B are gone, completing the
// crash-safe X -> M -> A sequence started in completeMerge.
func (l *Level) rotateInPlace(mPath string) error {
	aPath := filepath.Join(l.dir, fileName(slotA, l.num))
	if err := os.Rename(mPath, aPath); err != nil {
		return fmt.Errorf("level: promoting staged merge output: %w", err)
	}

	t, err := tree.Open(aPath)
	if err != nil {
		return fmt.Errorf("level: reopening A: %w", err)
	}
	l.trees[slotA] = t
	return nil
}

func (l *Level) promoteCtoA() error {
	return l.promoteCTo(slotA)
}

func (l *Level) promoteCtoB() error {
	return l.promoteCTo(slotB)
}

// promoteCTo renames an existing C file into dest, if C is present.
func (l *Level) promoteCTo(dest slot) error {
	c := l.trees[slotC]
	if c == nil {
		return nil
	}
	oldPath := c.Path()
	if err := c.Close(); err != nil {
		return fmt.Errorf("level: closing C: %w", err)
	}
	newPath := filepath.Join(l.dir, fileName(dest, l.num))
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("level: renaming C to %s: %w", dest.letter(), err)
	}
	t, err := tree.Open(newPath)
	if err != nil {
		return fmt.Errorf("level: reopening %s: %w", dest.letter(), err)
	}
	l.trees[dest] = t
	l.trees[slotC] = nil
	return nil
}

// Close releases every open file handle this level holds.
func (l *Level) Close() error {
	var firstErr error
	for s := slotA; s <= slotC; s++ {
		if l.trees[s] == nil {
			continue
		}
		if err := l.trees[s].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
