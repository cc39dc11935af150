package core

import "sort"

type ChangeType int

const (
	ChangeAdded ChangeType = iota
	ChangeModified
	ChangeRemoved
)

func (c ChangeType) String() string {
	switch c {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// FileChange is one changed file of the input artifact. Path is slash
// separated and relative to the artifact; it is empty when the artifact is a
// single file.
type FileChange struct {
	Path string
	Type ChangeType
}

// InputChanges tells an incremental action what changed since its last
// successful execution in the same workspace.
//
// When Incremental is false the output directory has been emptied and
// Changes lists every input file as added.
type InputChanges struct {
	Incremental bool
	Changes     []FileChange
}

// DiffSnapshots compares two per-file snapshots and returns the changes
// sorted by path.
func DiffSnapshots(previous, current map[string]string) []FileChange {
	var out []FileChange
	for path, hash := range current {
		old, ok := previous[path]
		switch {
		case !ok:
			out = append(out, FileChange{Path: path, Type: ChangeAdded})
		case old != hash:
			out = append(out, FileChange{Path: path, Type: ChangeModified})
		}
	}
	for path := range previous {
		if _, ok := current[path]; !ok {
			out = append(out, FileChange{Path: path, Type: ChangeRemoved})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func sameSnapshot(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
