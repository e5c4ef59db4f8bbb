package entities

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// GenesisHash anchors the first ledger entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// externalMarker stands in for a missing account side so that external
// mints and burns hash deterministically.
const externalMarker = "external"

// ComputeEntryHash derives the tamper-evidence hash for an entry from its
// own fields plus the hash of its predecessor. Monetary fields are
// canonicalized to fixed 6-decimal strings and the timestamp to
// RFC3339Nano UTC, so equal values always hash identically regardless of
// internal representation.
func ComputeEntryHash(prevHash string, entry LedgerEntry) string {
	from := entry.FromAccountID
	if from == "" {
		from = externalMarker
	}
	to := entry.ToAccountID
	if to == "" {
		to = externalMarker
	}
	canonical := strings.Join([]string{
		prevHash,
		from,
		to,
		entry.Amount.StringFixed(6),
		entry.FeeAmount.StringFixed(6),
		string(entry.TxType),
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// ChainEntry links an entry to its predecessor and stamps its hash.
func ChainEntry(prevHash string, entry LedgerEntry) LedgerEntry {
	entry.PrevHash = prevHash
	entry.EntryHash = ComputeEntryHash(prevHash, entry)
	return entry
}

// VerifyEntry recomputes an entry's hash against the expected predecessor
// hash and reports whether the stored linkage and hash are intact.
func VerifyEntry(prevHash string, entry LedgerEntry) bool {
	if entry.PrevHash != prevHash {
		return false
	}
	return entry.EntryHash == ComputeEntryHash(prevHash, entry)
}
