// Package proofs checks the external timestamp evidence attached to an
// attestation: an RFC 3161 TSA token and an OpenTimestamps proof.
//
// Verification is delegated to operator-supplied commands named by the
// SILEXIUM_TSA_VERIFY and SILEXIUM_OTS_VERIFY environment variables. Each
// command is invoked as `cmd <payload_hash> <proof_file>` and must exit zero
// on success. SILEXIUM_SKIP_PROOF_VERIFY=1 disables both checks, for
// development and tests.
package proofs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/silexium-dev/silexium/pkg/errdefs"
)

// Environment variables consumed by the verifier.
const (
	EnvSkip      = "SILEXIUM_SKIP_PROOF_VERIFY"
	EnvTSAVerify = "SILEXIUM_TSA_VERIFY"
	EnvOTSVerify = "SILEXIUM_OTS_VERIFY"
)

// Verifier runs the configured external proof checks.
type Verifier struct {
	skip   bool
	tsaCmd string
	otsCmd string
}

// FromEnv builds a Verifier from the process environment. Missing verifier
// commands are only an error once Verify is called without the skip flag.
func FromEnv() *Verifier {
	return &Verifier{
		skip:   os.Getenv(EnvSkip) == "1",
		tsaCmd: os.Getenv(EnvTSAVerify),
		otsCmd: os.Getenv(EnvOTSVerify),
	}
}

// New builds a Verifier with explicit commands. Used by tests.
func New(tsaCmd, otsCmd string, skip bool) *Verifier {
	return &Verifier{skip: skip, tsaCmd: tsaCmd, otsCmd: otsCmd}
}

// Verify checks both proofs over the payload hash. Both must pass.
func (v *Verifier) Verify(ctx context.Context, payloadHash string, tsaProof, otsProof []byte) error {
	if v.skip {
		return nil
	}
	if strings.TrimSpace(v.tsaCmd) == "" {
		return fmt.Errorf("%s is required for TSA verification: %w", EnvTSAVerify, errdefs.ErrProofInvalid)
	}
	if strings.TrimSpace(v.otsCmd) == "" {
		return fmt.Errorf("%s is required for OTS verification: %w", EnvOTSVerify, errdefs.ErrProofInvalid)
	}
	if err := v.runVerify(ctx, v.tsaCmd, payloadHash, tsaProof, "tsa"); err != nil {
		return err
	}
	return v.runVerify(ctx, v.otsCmd, payloadHash, otsProof, "ots")
}

func (v *Verifier) runVerify(ctx context.Context, cmd, payloadHash string, proof []byte, kind string) error {
	path, err := writeTemp(kind, proof)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(path) }()

	out, err := exec.CommandContext(ctx, cmd, payloadHash, path).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s verification failed: %v\noutput:\n%s: %w",
			kind, err, strings.TrimSpace(string(out)), errdefs.ErrProofInvalid)
	}
	return nil
}

func writeTemp(kind string, proof []byte) (string, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("silexium-%s-%d.proof", kind, time.Now().UnixNano()))
	if err := os.WriteFile(path, proof, 0o600); err != nil {
		return "", fmt.Errorf("write %s proof file: %w", kind, err)
	}
	return path, nil
}
