package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Mode selects the workspace kind of an execution.
type Mode int

const (
	ModeMutable Mode = iota
	ModeImmutable
	ModeImmutableRaw
)

func (m Mode) String() string {
	switch m {
	case ModeMutable:
		return "mutable"
	case ModeImmutable:
		return "immutable"
	case ModeImmutableRaw:
		return "immutable-raw"
	default:
		return "unknown"
	}
}

// Identity is the stable key of one unit of transform work.
type Identity struct {
	Mode Mode
	Hash string
}

// Key is unique across modes, so the same logical input never shares a
// workspace between buckets.
func (id Identity) Key() string { return id.Mode.String() + "/" + id.Hash }

func (id Identity) String() string { return id.Key() }

// IdentityInput holds every component that may enter an identity. Fields a
// mode does not use must be left empty.
type IdentityInput struct {
	Mode Mode

	// InputPath is the input location as the mode sees it: project relative
	// (mutable), normalized (immutable) or absolute (immutable-raw).
	InputPath string

	// InputFingerprint is the content hash (immutable) or raw snapshot hash
	// (immutable-raw) of the input artifact.
	InputFingerprint string

	// ProjectPath is the owning project path (mutable only).
	ProjectPath string

	// ActionIdentity and SecondaryInputHash describe the action and its
	// parameters.
	ActionIdentity     string
	SecondaryInputHash string

	// DependenciesHash fingerprints the resolved dependency artifacts.
	DependenciesHash string
}

// ComputeIdentity hashes in into an Identity. It is a pure function:
// identical inputs give identical identities and any differing component
// gives a different one.
//
// Components are written in a fixed order, each length-prefixed:
//  1. Mode
//  2. Input path
//  3. Input fingerprint
//  4. Project path
//  5. Action identity
//  6. Secondary input hash
//  7. Dependencies hash
func ComputeIdentity(in IdentityInput) Identity {
	hasher := sha256.New()

	writeField := func(data string) {
		var lengthBytes [8]byte
		binary.BigEndian.PutUint64(lengthBytes[:], uint64(len(data)))
		hasher.Write(lengthBytes[:])
		hasher.Write([]byte(data))
	}

	writeField(in.Mode.String())
	writeField(in.InputPath)
	writeField(in.InputFingerprint)
	writeField(in.ProjectPath)
	writeField(in.ActionIdentity)
	writeField(in.SecondaryInputHash)
	writeField(in.DependenciesHash)

	return Identity{Mode: in.Mode, Hash: hex.EncodeToString(hasher.Sum(nil))}
}
