// Package provablyfair implements the commit-reveal seed scheme and the
// deterministic round resolver shared with the on-chain program.
package provablyfair

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const SeedSize = 32

// SeedCommitment is a server secret and its SHA-256 commitment. The
// commitment is published before any wager; the secret only at settlement.
type SeedCommitment struct {
	Secret     [SeedSize]byte
	Commitment [sha256.Size]byte
}

func GenerateSeed() (SeedCommitment, error) {
	var sc SeedCommitment

	if _, err := rand.Read(sc.Secret[:]); err != nil {
		return SeedCommitment{}, fmt.Errorf("read random seed: %w", err)
	}
	sc.Commitment = sha256.Sum256(sc.Secret[:])

	return sc, nil
}

func (sc SeedCommitment) SecretHex() string {
	return hex.EncodeToString(sc.Secret[:])
}

func (sc SeedCommitment) CommitmentHex() string {
	return hex.EncodeToString(sc.Commitment[:])
}

func HashSeed(secret []byte) string {
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:])
}

// VerifyCommitment reports whether SHA256(secretHex) equals commitmentHex.
func VerifyCommitment(secretHex, commitmentHex string) (bool, string, error) {
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return false, "", fmt.Errorf("decode secret: %w", err)
	}

	computed := HashSeed(secret)
	ok := subtle.ConstantTimeCompare([]byte(computed), []byte(commitmentHex)) == 1

	return ok, computed, nil
}
