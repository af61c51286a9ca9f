// Package ledger implements an append-only document ledger with a verifiable revision
// history.
//
// Every document lives in a logical table and carries a version that starts at 0. Each
// committed insert or update appends one Revision to the journal whose Hash covers the
// previous revision's hash, so any rewrite of history is detectable via VerifyChain.
//
// Two Driver implementations are provided:
//   - PostgresDriver: SERIALIZABLE transactions over PostgreSQL, retried on conflicts.
//   - MemoryDriver: in-process, transactions serialized by a mutex.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors returned by drivers.
var (
	ErrConflict     = errors.New("ledger: transaction conflict")
	ErrTampered     = errors.New("ledger: revision chain failed verification")
	ErrInvalidName  = errors.New("ledger: invalid table or field name")
	ErrInvalidPatch = errors.New("ledger: empty update patch")
)

const idLength = 22

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,62}$`)

// Metadata describes a document revision as recorded by the ledger.
type Metadata struct {
	ID      string    `json:"id"`
	Version int64     `json:"version"`
	TxID    string    `json:"txId"`
	TxTime  time.Time `json:"txTime"`
}

// Revision is one immutable entry of a document's history.
type Revision struct {
	Table        string          `json:"table"`
	Metadata     Metadata        `json:"metadata"`
	Data         json.RawMessage `json:"data"`
	Hash         string          `json:"hash"`
	PreviousHash string          `json:"previousHash,omitempty"`
}

// Document is the committed, current state of a ledger document.
type Document struct {
	ID      string
	Version int64
	Data    json.RawMessage
}

// Decode unmarshals the document body into dest.
func (d Document) Decode(dest interface{}) error {
	if err := json.Unmarshal(d.Data, dest); err != nil {
		return fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return nil
}

// Txn is the statement surface available inside a ledger transaction.
type Txn interface {
	// ID returns the transaction identifier recorded in revision metadata.
	ID() string
	// Insert stores a new document and returns the ledger-assigned document id.
	Insert(ctx context.Context, table string, doc interface{}) (string, error)
	// Select returns the documents whose top-level field equals value.
	Select(ctx context.Context, table, field, value string) ([]Document, error)
	// Update merges patch into every document whose field equals value and returns the
	// number of documents changed.
	Update(ctx context.Context, table, field, value string, patch map[string]interface{}) (int, error)
	// History returns every committed revision of the document in version order.
	History(ctx context.Context, table, documentID string) ([]Revision, error)
}

// TxFunc is the body of a ledger transaction.
type TxFunc func(ctx context.Context, txn Txn) error

// Driver runs transaction bodies atomically. A nil return from fn commits; any error
// rolls the transaction back and is returned unchanged, except for store conflicts that
// exhaust the retry budget, which are reported as ErrConflict.
type Driver interface {
	ExecuteTx(ctx context.Context, fn TxFunc) error
}

// CommitHook receives the revisions appended by a committed transaction.
type CommitHook func(ctx context.Context, revisions []Revision)

// NewID returns a fresh 22 character base62 identifier.
func NewID() string {
	u := uuid.New()
	encoded := new(big.Int).SetBytes(u[:]).Text(62)
	if len(encoded) < idLength {
		encoded = strings.Repeat("0", idLength-len(encoded)) + encoded
	}
	return encoded
}

func validateName(kind, name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %s %q", ErrInvalidName, kind, name)
	}
	return nil
}

// canonicalJSON marshals v with sorted object keys so equal documents hash equally.
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	if _, ok := generic.(map[string]interface{}); !ok {
		return nil, fmt.Errorf("document must be a JSON object")
	}
	return json.Marshal(generic)
}

func decodeObject(raw []byte) (map[string]interface{}, error) {
	obj := make(map[string]interface{})
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// mergePatch applies a shallow patch to a stored document body.
func mergePatch(current []byte, patch map[string]interface{}) ([]byte, error) {
	obj, err := decodeObject(current)
	if err != nil {
		return nil, fmt.Errorf("decode current document: %w", err)
	}
	for k, v := range patch {
		obj[k] = v
	}
	return canonicalJSON(obj)
}

// fieldEquals reports whether the top-level field of raw renders to value.
func fieldEquals(raw []byte, field, value string) bool {
	obj, err := decodeObject(raw)
	if err != nil {
		return false
	}
	v, ok := obj[field]
	if !ok || v == nil {
		return false
	}
	switch typed := v.(type) {
	case string:
		return typed == value
	case json.Number:
		return typed.String() == value
	case bool:
		return fmt.Sprintf("%t", typed) == value
	default:
		return false
	}
}

func checkPatch(patch map[string]interface{}) error {
	if len(patch) == 0 {
		return ErrInvalidPatch
	}
	for field := range patch {
		if err := validateName("field", field); err != nil {
			return err
		}
	}
	return nil
}
