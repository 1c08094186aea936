// Package translog maintains the append-only transparency log: the ordered
// leaf vector, its Merkle tree, and signed tree heads.
//
// The log is single-writer. Append holds the write lock across the database
// transaction so leaf indices are assigned and persisted in strict order.
// Readers take an immutable Snapshot and compute roots and proofs from it
// without blocking the writer for longer than a slice copy.
package translog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/silexium-dev/silexium/pkg/canonical"
	"github.com/silexium-dev/silexium/pkg/crypto"
	"github.com/silexium-dev/silexium/pkg/errdefs"
	"github.com/silexium-dev/silexium/pkg/merkle"
	"github.com/silexium-dev/silexium/pkg/model"
	"github.com/silexium-dev/silexium/pkg/store"
)

// Log is the in-process view of the transparency log.
type Log struct {
	mu     sync.RWMutex
	leaves []merkle.Hash

	db     *sql.DB
	heads  *store.LogStore
	signer *crypto.Signer
	now    func() time.Time
}

// Open loads every persisted entry and rebuilds the leaf vector. The signer
// is the server key used for tree heads.
func Open(ctx context.Context, db *sql.DB, signer *crypto.Signer) (*Log, error) {
	logs := store.NewLogStore(db)
	entries, err := logs.Entries(ctx)
	if err != nil {
		return nil, err
	}
	leaves := make([]merkle.Hash, 0, len(entries))
	for i, e := range entries {
		if e.LeafIndex != int64(i) {
			return nil, fmt.Errorf("log entry at position %d has leaf index %d", i, e.LeafIndex)
		}
		leaf, err := merkle.DecodeHash(e.Hash())
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		leaves = append(leaves, leaf)
	}
	return &Log{
		leaves: leaves,
		db:     db,
		heads:  logs,
		signer: signer,
		now:    time.Now,
	}, nil
}

// Size returns the current tree size.
func (l *Log) Size() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.leaves))
}

// Append assigns the next leaf index and calls commit with it. commit must
// persist the entry (and everything it depends on) durably; the in-memory
// tree is extended only after commit returns nil. The write lock is held for
// the whole call, so at most one append is in flight.
func (l *Log) Append(ctx context.Context, commit func(leafIndex int64) (*model.LogEntry, error)) (*model.LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, err := commit(int64(len(l.leaves)))
	if err != nil {
		return nil, err
	}
	if entry.LeafIndex != int64(len(l.leaves)) {
		return nil, fmt.Errorf("committed entry has leaf index %d, expected %d", entry.LeafIndex, len(l.leaves))
	}
	leaf, err := merkle.DecodeHash(entry.Hash())
	if err != nil {
		return nil, err
	}
	l.leaves = append(l.leaves, leaf)
	return entry, nil
}

// Snapshot is a point-in-time view of the log. Proof methods are pure over
// the captured leaves.
type Snapshot struct {
	leaves []merkle.Hash
}

// Snapshot captures the current leaf vector.
func (l *Log) Snapshot() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	leaves := make([]merkle.Hash, len(l.leaves))
	copy(leaves, l.leaves)
	return &Snapshot{leaves: leaves}
}

// Size returns the snapshot's tree size.
func (s *Snapshot) Size() uint64 {
	return uint64(len(s.leaves))
}

// Root returns the snapshot's tree head.
func (s *Snapshot) Root() merkle.Hash {
	return merkle.MTH(s.leaves)
}

// Leaf returns the leaf hash at index.
func (s *Snapshot) Leaf(index int64) (merkle.Hash, error) {
	if index < 0 || index >= int64(len(s.leaves)) {
		return merkle.Hash{}, fmt.Errorf("leaf index %d out of range for tree size %d: %w",
			index, len(s.leaves), errdefs.ErrInvalidTreeSizes)
	}
	return s.leaves[index], nil
}

// Inclusion returns the audit path for the leaf at index.
func (s *Snapshot) Inclusion(index int64) ([]merkle.Hash, error) {
	return merkle.InclusionProof(s.leaves, int(index))
}

// Consistency proves the tree at oldSize is a prefix of this snapshot.
func (s *Snapshot) Consistency(oldSize uint64) ([]merkle.Hash, error) {
	return merkle.ConsistencyProof(s.leaves, int(oldSize), len(s.leaves))
}

// RootAt returns the tree head of the first oldSize leaves.
func (s *Snapshot) RootAt(oldSize uint64) (merkle.Hash, error) {
	if oldSize > uint64(len(s.leaves)) {
		return merkle.Hash{}, fmt.Errorf("tree size %d exceeds log size %d: %w",
			oldSize, len(s.leaves), errdefs.ErrInvalidTreeSizes)
	}
	return merkle.MTH(s.leaves[:oldSize]), nil
}

// TreeHead returns the signed tree head for the snapshot's size, issuing and
// persisting one if none exists yet. Issuance is lazy: appends never produce
// a head, only readers asking for one do.
func (l *Log) TreeHead(ctx context.Context, snap *Snapshot) (*model.STH, error) {
	sth, err := l.heads.TreeHeadBySize(ctx, snap.Size())
	if err == nil {
		return sth, nil
	}
	if !errors.Is(err, errdefs.ErrNotFound) {
		return nil, err
	}
	if l.signer == nil {
		return nil, fmt.Errorf("no server signing key configured, cannot issue tree head at size %d", snap.Size())
	}

	issued := &model.STH{
		TreeSize:  snap.Size(),
		RootHash:  snap.Root().String(),
		Timestamp: l.now().UTC().Format(time.RFC3339),
		KeyID:     l.signer.KeyID,
	}
	issued.Signature = l.signer.Sign(canonical.STHPayload(issued.TreeSize, issued.RootHash, issued.Timestamp))
	if err := l.heads.InsertTreeHead(ctx, issued); err != nil {
		return nil, err
	}
	// Another reader may have raced the insert; the stored row wins so a
	// given size never has two heads.
	return l.heads.TreeHeadBySize(ctx, snap.Size())
}

// VerifySTH checks a tree head signature against the server public key.
func VerifySTH(publicKey []byte, sth *model.STH) error {
	payload := canonical.STHPayload(sth.TreeSize, sth.RootHash, sth.Timestamp)
	if err := crypto.Verify(publicKey, payload, sth.Signature); err != nil {
		return fmt.Errorf("tree head at size %d: %w", sth.TreeSize, err)
	}
	return nil
}
