// Package snapshot computes the file-system fingerprints that feed workspace
// identities.
//
// Two strengths are offered:
//   - ContentHash reads every byte (sha256) and is independent of timestamps.
//   - RawHash only stats entries (xxh3 over path, size, mode and mtime). It is
//     much cheaper and is used for artifacts that do not belong to a project.
//
// All walks are sorted so results never depend on directory ordering.
package snapshot

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/xxh3"
)

// ErrMissing is returned when the snapshotted location does not exist.
var ErrMissing = errors.New("location does not exist")

type fileEntry struct {
	rel  string // slash separated, "" for the root itself
	path string
	info fs.FileInfo
}

func (e fileEntry) isSymlink() bool { return e.info.Mode()&fs.ModeSymlink != 0 }

// linkTarget is the symlink's target as written. Links are not followed, so a
// link to a directory hashes the same as long as it points at the same name.
func (e fileEntry) linkTarget() ([]byte, error) {
	target, err := os.Readlink(e.path)
	if err != nil {
		return nil, err
	}
	return []byte(filepath.ToSlash(target)), nil
}

// walk returns every file and directory under root, sorted by relative path.
func walk(root string) ([]fileEntry, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", root, ErrMissing)
		}
		return nil, err
	}
	if !info.IsDir() {
		return []fileEntry{{rel: "", path: root, info: info}}, nil
	}
	// WalkDir does not descend into a symlinked root.
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return nil, err
	}

	var entries []fileEntry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			rel = ""
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, fileEntry{rel: filepath.ToSlash(rel), path: path, info: fi})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })
	return entries, nil
}

func writeField(h hash.Hash, data []byte) {
	var lengthBytes [8]byte
	binary.BigEndian.PutUint64(lengthBytes[:], uint64(len(data)))
	h.Write(lengthBytes[:])
	h.Write(data)
}

// ContentHash fingerprints the file or directory tree at path by content.
// Relative entry names take part in the hash; absolute location and metadata
// do not.
func ContentHash(path string) (string, error) {
	entries, err := walk(path)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, e := range entries {
		writeField(h, []byte(e.rel))
		if e.info.IsDir() {
			writeField(h, []byte("d"))
			continue
		}
		if e.isSymlink() {
			target, err := e.linkTarget()
			if err != nil {
				return "", err
			}
			writeField(h, []byte("l"))
			writeField(h, target)
			continue
		}
		sum, err := fileSHA256(e.path)
		if err != nil {
			return "", fmt.Errorf("hashing %s: %w", e.path, err)
		}
		writeField(h, []byte("f"))
		writeField(h, sum)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// RawHash fingerprints path from metadata only.
func RawHash(path string) (string, error) {
	entries, err := walk(path)
	if err != nil {
		return "", err
	}
	h := xxh3.New()
	var buf [8]byte
	writeUint := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	writeUint(uint64(len(abs)))
	h.WriteString(abs)
	for _, e := range entries {
		writeUint(uint64(len(e.rel)))
		h.WriteString(e.rel)
		writeUint(uint64(e.info.Mode()))
		if e.info.IsDir() {
			continue
		}
		if e.isSymlink() {
			target, err := e.linkTarget()
			if err != nil {
				return "", err
			}
			writeUint(uint64(len(target)))
			h.Write(target)
		}
		writeUint(uint64(e.info.Size()))
		writeUint(uint64(e.info.ModTime().UnixNano()))
	}
	sum := h.Sum128().Bytes()
	return hex.EncodeToString(sum[:]), nil
}

// Tree returns a content hash per regular file under path, keyed by slash
// separated relative path. A regular file at path is keyed by "". Symlinks
// are recorded by target, prefixed with "link:".
func Tree(path string) (map[string]string, error) {
	entries, err := walk(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.info.IsDir() {
			continue
		}
		if e.isSymlink() {
			target, err := e.linkTarget()
			if err != nil {
				return nil, err
			}
			out[e.rel] = "link:" + string(target)
			continue
		}
		sum, err := fileSHA256(e.path)
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", e.path, err)
		}
		out[e.rel] = hex.EncodeToString(sum)
	}
	return out, nil
}

// DependenciesHash fingerprints an ordered list of dependency artifacts by
// content.
func DependenciesHash(paths []string) (string, error) {
	h := sha256.New()
	writeField(h, []byte{byte(len(paths) >> 8), byte(len(paths))})
	for _, p := range paths {
		sum, err := ContentHash(p)
		if err != nil {
			return "", fmt.Errorf("dependency %s: %w", p, err)
		}
		writeField(h, []byte(sum))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func fileSHA256(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
