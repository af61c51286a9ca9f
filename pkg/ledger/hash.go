package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

const revisionDomain = "sufragio/ledger/revision/v1"

// hashWithDomain computes SHA-256 over domain, a 0x00 separator and the parts, each part
// terminated by 0x00 so field boundaries cannot be shifted.
func hashWithDomain(domain string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0x00})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RevisionHash computes the chained hash for a revision.
func RevisionHash(previousHash, table string, meta Metadata, data []byte) string {
	return hashWithDomain(revisionDomain,
		previousHash,
		table,
		meta.ID,
		strconv.FormatInt(meta.Version, 10),
		meta.TxID,
		meta.TxTime.UTC().Format(time.RFC3339Nano),
		string(data),
	)
}

func newRevision(table string, meta Metadata, data []byte, previousHash string) Revision {
	return Revision{
		Table:        table,
		Metadata:     meta,
		Data:         append([]byte(nil), data...),
		Hash:         RevisionHash(previousHash, table, meta, data),
		PreviousHash: previousHash,
	}
}

// VerifyChain checks that revisions form an unbroken hash chain starting at version 0.
func VerifyChain(revisions []Revision) error {
	previous := ""
	for i, rev := range revisions {
		if rev.Metadata.Version != int64(i) {
			return fmt.Errorf("%w: document %s expected version %d, found %d", ErrTampered, rev.Metadata.ID, i, rev.Metadata.Version)
		}
		if rev.PreviousHash != previous {
			return fmt.Errorf("%w: document %s version %d is not linked to its predecessor", ErrTampered, rev.Metadata.ID, rev.Metadata.Version)
		}
		if expected := RevisionHash(previous, rev.Table, rev.Metadata, rev.Data); expected != rev.Hash {
			return fmt.Errorf("%w: document %s version %d hash mismatch", ErrTampered, rev.Metadata.ID, rev.Metadata.Version)
		}
		previous = rev.Hash
	}
	return nil
}

// Digest returns the hash of the newest revision, which commits to the whole history.
func Digest(revisions []Revision) string {
	if len(revisions) == 0 {
		return ""
	}
	return revisions[len(revisions)-1].Hash
}
