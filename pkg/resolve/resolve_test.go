package resolve_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silexium-dev/silexium/pkg/crypto"
	"github.com/silexium-dev/silexium/pkg/errdefs"
	"github.com/silexium-dev/silexium/pkg/fixture"
	"github.com/silexium-dev/silexium/pkg/ingest"
	"github.com/silexium-dev/silexium/pkg/merkle"
	"github.com/silexium-dev/silexium/pkg/proofs"
	"github.com/silexium-dev/silexium/pkg/resolve"
	"github.com/silexium-dev/silexium/pkg/store"
	"github.com/silexium-dev/silexium/pkg/translog"
)

type world struct {
	db       *sql.DB
	log      *translog.Log
	signer   *crypto.Signer
	pipeline *ingest.Pipeline
	svc      *resolve.Service
}

func newWorld(t *testing.T) *world {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	seed := make([]byte, 32)
	seed[31] = 42
	signer, err := crypto.NewSignerFromSeed(seed, "")
	require.NoError(t, err)

	log, err := translog.Open(context.Background(), db, signer)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &world{
		db:       db,
		log:      log,
		signer:   signer,
		pipeline: ingest.NewPipeline(db, log, proofs.New("", "", true), logger),
		svc:      resolve.NewService(db, log, logger),
	}
}

func (w *world) ingest(t *testing.T, opts fixture.Options) *fixture.Release {
	t.Helper()
	rel, err := fixture.Build(opts)
	require.NoError(t, err)

	keys := store.NewKeyStore(w.db)
	for _, key := range rel.Keys() {
		k := key
		require.NoError(t, keys.Add(context.Background(), &k))
	}
	_, err = w.pipeline.Run(context.Background(), rel.Ingest)
	require.NoError(t, err)
	return rel
}

func day(n int) time.Time {
	return time.Date(2026, 3, n, 12, 0, 0, 0, time.UTC)
}

func TestResolveEmptyLogIsNotFound(t *testing.T) {
	w := newWorld(t)
	_, err := w.svc.Install(context.Background(), &resolve.InstallRequest{
		Package: "demo", OS: "linux", Arch: "x86_64",
	})
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	// The empty tree still has the well-known root.
	assert.Equal(t,
		"af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262",
		w.log.Snapshot().Root().String(),
	)
}

func TestResolveSingleRelease(t *testing.T) {
	w := newWorld(t)
	rel := w.ingest(t, fixture.Options{Package: "demo", Version: "1.0.0", CreatedAt: day(1)})

	resp, err := w.svc.Install(context.Background(), &resolve.InstallRequest{
		Package: "demo", OS: "linux", Arch: "x86_64",
	})
	require.NoError(t, err)

	assert.Equal(t, "demo", resp.Package)
	assert.Equal(t, "1.0.0", resp.Version)
	assert.Equal(t, "stable", resp.Channel)
	assert.False(t, resp.UpToDate)
	assert.Equal(t, rel.ManifestHash, resp.Manifest.BLAKE3)

	require.Len(t, resp.Artifacts, 2)
	assert.Equal(t, "binary", resp.Artifacts[0].Kind)
	assert.Equal(t, "source", resp.Artifacts[1].Kind)

	require.Len(t, resp.Attestations, 3)
	assert.Equal(t, "author", resp.Attestations[0].Kind)
	assert.Equal(t, "tests", resp.Attestations[1].Kind)
	assert.Equal(t, "server", resp.Attestations[2].Kind)

	assert.Equal(t, uint64(1), resp.Log.TreeSize)
	assert.Equal(t, uint64(0), resp.Log.LeafIndex)
	assert.Empty(t, resp.Log.Inclusion)
	assert.Empty(t, resp.Log.Consistency)

	// The STH signature verifies with the server key and covers the root,
	// which for a single entry is the leaf hash.
	assert.NoError(t, translog.VerifySTH(w.signer.PublicKeyBytes(), &resp.Log.STH))
	assert.Equal(t, resp.Log.LeafHash, resp.Log.STH.RootHash)
}

func TestResolveInclusionProofVerifies(t *testing.T) {
	w := newWorld(t)
	for i, version := range []string{"1.0.0", "1.1.0", "1.2.0"} {
		w.ingest(t, fixture.Options{Package: "demo", Version: version, CreatedAt: day(i + 1)})
	}

	resp, err := w.svc.Install(context.Background(), &resolve.InstallRequest{
		Package: "demo", OS: "linux", Arch: "x86_64", Version: "1.1.0",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), resp.Log.LeafIndex)

	entryHash, err := merkle.DecodeHash(resp.Log.EntryHash)
	require.NoError(t, err)
	root, err := merkle.DecodeHash(resp.Log.STH.RootHash)
	require.NoError(t, err)
	proof := decodeHashes(t, resp.Log.Inclusion)
	assert.NoError(t, merkle.VerifyInclusion(entryHash, proof,
		int(resp.Log.LeafIndex), int(resp.Log.TreeSize), root))
}

func TestUpdateConsistencyProof(t *testing.T) {
	w := newWorld(t)
	w.ingest(t, fixture.Options{Package: "demo", Version: "1.0.0", CreatedAt: day(1)})

	// Capture the client's known head at size 1.
	snap1 := w.log.Snapshot()
	knownRoot := snap1.Root().String()

	w.ingest(t, fixture.Options{Package: "demo", Version: "1.1.0", CreatedAt: day(2)})

	resp, err := w.svc.Update(context.Background(), &resolve.UpdateRequest{
		Package: "demo", OS: "linux", Arch: "x86_64", CurrentVersion: "1.0.0",
		KnownSTH: &resolve.KnownSTH{TreeSize: 1, RootHash: knownRoot},
	})
	require.NoError(t, err)

	assert.False(t, resp.UpToDate)
	assert.Equal(t, "1.1.0", resp.Version)
	require.NotEmpty(t, resp.Log.Consistency)

	oldRoot, err := merkle.DecodeHash(knownRoot)
	require.NoError(t, err)
	newRoot, err := merkle.DecodeHash(resp.Log.STH.RootHash)
	require.NoError(t, err)
	proof := decodeHashes(t, resp.Log.Consistency)
	assert.NoError(t, merkle.VerifyConsistency(1, int(resp.Log.TreeSize), proof, oldRoot, newRoot))
}

func TestUpdateUpToDate(t *testing.T) {
	w := newWorld(t)
	w.ingest(t, fixture.Options{Package: "demo", Version: "1.0.0", CreatedAt: day(1)})
	w.ingest(t, fixture.Options{Package: "demo", Version: "1.1.0", CreatedAt: day(2)})

	resp, err := w.svc.Update(context.Background(), &resolve.UpdateRequest{
		Package: "demo", OS: "linux", Arch: "x86_64", CurrentVersion: "1.1.0",
	})
	require.NoError(t, err)
	assert.True(t, resp.UpToDate)
	assert.Equal(t, "1.1.0", resp.Version)

	// The evidence block is still present and valid.
	entryHash, err := merkle.DecodeHash(resp.Log.EntryHash)
	require.NoError(t, err)
	root, err := merkle.DecodeHash(resp.Log.STH.RootHash)
	require.NoError(t, err)
	assert.NoError(t, merkle.VerifyInclusion(entryHash, decodeHashes(t, resp.Log.Inclusion),
		int(resp.Log.LeafIndex), int(resp.Log.TreeSize), root))
}

func TestLatestPicksHighestSemver(t *testing.T) {
	w := newWorld(t)
	// Backfill: the older version is ingested last.
	w.ingest(t, fixture.Options{Package: "demo", Version: "1.2.0", CreatedAt: day(1)})
	w.ingest(t, fixture.Options{Package: "demo", Version: "1.0.1", CreatedAt: day(2)})

	resp, err := w.svc.Install(context.Background(), &resolve.InstallRequest{
		Package: "demo", OS: "linux", Arch: "x86_64",
	})
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", resp.Version)
}

func TestResolveValidationErrors(t *testing.T) {
	w := newWorld(t)
	w.ingest(t, fixture.Options{Package: "demo", Version: "1.0.0", CreatedAt: day(1)})
	ctx := context.Background()

	_, err := w.svc.Install(ctx, &resolve.InstallRequest{OS: "linux", Arch: "x86_64"})
	assert.ErrorIs(t, err, errdefs.ErrInvalidRequest)

	_, err = w.svc.Update(ctx, &resolve.UpdateRequest{Package: "demo", OS: "linux", Arch: "x86_64"})
	assert.ErrorIs(t, err, errdefs.ErrInvalidRequest)

	// Platform without a binary artifact.
	_, err = w.svc.Install(ctx, &resolve.InstallRequest{Package: "demo", OS: "plan9", Arch: "mips"})
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	// Unknown channel.
	_, err = w.svc.Install(ctx, &resolve.InstallRequest{Package: "demo", OS: "linux", Arch: "x86_64", Channel: "beta"})
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestKnownSTHValidation(t *testing.T) {
	w := newWorld(t)
	w.ingest(t, fixture.Options{Package: "demo", Version: "1.0.0", CreatedAt: day(1)})
	w.ingest(t, fixture.Options{Package: "demo", Version: "1.1.0", CreatedAt: day(2)})
	ctx := context.Background()

	// Ahead of the log.
	_, err := w.svc.Install(ctx, &resolve.InstallRequest{
		Package: "demo", OS: "linux", Arch: "x86_64",
		KnownSTH: &resolve.KnownSTH{TreeSize: 99, RootHash: "whatever"},
	})
	assert.ErrorIs(t, err, errdefs.ErrInvalidRequest)

	// Root that does not match this log's history.
	_, err = w.svc.Install(ctx, &resolve.InstallRequest{
		Package: "demo", OS: "linux", Arch: "x86_64",
		KnownSTH: &resolve.KnownSTH{TreeSize: 1, RootHash: "deadbeef"},
	})
	assert.ErrorIs(t, err, errdefs.ErrInvalidRequest)

	// Matching current size: no consistency block.
	resp, err := w.svc.Install(ctx, &resolve.InstallRequest{
		Package: "demo", OS: "linux", Arch: "x86_64",
		KnownSTH: &resolve.KnownSTH{TreeSize: 2, RootHash: w.log.Snapshot().Root().String()},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Log.Consistency)
}

func decodeHashes(t *testing.T, hexes []string) []merkle.Hash {
	t.Helper()
	out := make([]merkle.Hash, 0, len(hexes))
	for _, s := range hexes {
		h, err := merkle.DecodeHash(s)
		require.NoError(t, err)
		out = append(out, h)
	}
	return out
}
