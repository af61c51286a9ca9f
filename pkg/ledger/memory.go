package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryDriver is an in-process ledger. Transactions run one at a time under a mutex,
// which makes every schedule trivially serializable; staged writes are discarded when the
// body returns an error.
type MemoryDriver struct {
	mu        sync.Mutex
	documents map[docKey]memDocument
	journal   map[docKey][]Revision
	opts      options
}

type docKey struct {
	table string
	id    string
}

type memDocument struct {
	version int64
	data    []byte
	hash    string
}

// NewMemoryDriver constructs an empty in-memory ledger.
func NewMemoryDriver(opts ...Option) *MemoryDriver {
	return &MemoryDriver{
		documents: make(map[docKey]memDocument),
		journal:   make(map[docKey][]Revision),
		opts:      buildOptions(opts),
	}
}

// ExecuteTx implements Driver.
func (d *MemoryDriver) ExecuteTx(ctx context.Context, fn TxFunc) error {
	started := time.Now()
	if err := ctx.Err(); err != nil {
		return err
	}

	revisions, err := d.commit(ctx, fn)
	if err != nil {
		d.opts.observe(OutcomeAborted, 1, started)
		return err
	}
	d.opts.observe(OutcomeCommitted, 1, started)
	d.opts.publish(ctx, revisions)
	return nil
}

// commit runs fn under the driver lock and applies its staged writes on success.
func (d *MemoryDriver) commit(ctx context.Context, fn TxFunc) ([]Revision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	txn := &memTxn{
		driver: d,
		id:     NewID(),
		at:     time.Now().UTC().Truncate(time.Microsecond),
		staged: make(map[docKey]memDocument),
	}
	err := fn(ctx, txn)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	for key, doc := range txn.staged {
		d.documents[key] = doc
	}
	for _, rev := range txn.revisions {
		key := docKey{table: rev.Table, id: rev.Metadata.ID}
		d.journal[key] = append(d.journal[key], rev)
	}
	return txn.revisions, nil
}

type memTxn struct {
	driver    *MemoryDriver
	id        string
	at        time.Time
	staged    map[docKey]memDocument
	revisions []Revision
}

func (t *memTxn) ID() string { return t.id }

func (t *memTxn) Insert(_ context.Context, table string, doc interface{}) (string, error) {
	if err := validateName("table", table); err != nil {
		return "", err
	}
	data, err := canonicalJSON(doc)
	if err != nil {
		return "", fmt.Errorf("encode %s document: %w", table, err)
	}
	meta := Metadata{ID: NewID(), Version: 0, TxID: t.id, TxTime: t.at}
	rev := newRevision(table, meta, data, "")
	t.staged[docKey{table: table, id: meta.ID}] = memDocument{version: 0, data: data, hash: rev.Hash}
	t.revisions = append(t.revisions, rev)
	return meta.ID, nil
}

func (t *memTxn) Select(_ context.Context, table, field, value string) ([]Document, error) {
	keys, err := t.match(table, field, value)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(keys))
	for _, key := range keys {
		doc, _ := t.lookup(key)
		docs = append(docs, Document{ID: key.id, Version: doc.version, Data: append([]byte(nil), doc.data...)})
	}
	return docs, nil
}

func (t *memTxn) Update(_ context.Context, table, field, value string, patch map[string]interface{}) (int, error) {
	if err := checkPatch(patch); err != nil {
		return 0, err
	}
	keys, err := t.match(table, field, value)
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		current, _ := t.lookup(key)
		merged, err := mergePatch(current.data, patch)
		if err != nil {
			return 0, fmt.Errorf("patch %s document %s: %w", table, key.id, err)
		}
		meta := Metadata{ID: key.id, Version: current.version + 1, TxID: t.id, TxTime: t.at}
		rev := newRevision(table, meta, merged, current.hash)
		t.staged[key] = memDocument{version: meta.Version, data: merged, hash: rev.Hash}
		t.revisions = append(t.revisions, rev)
	}
	return len(keys), nil
}

func (t *memTxn) History(_ context.Context, table, documentID string) ([]Revision, error) {
	if err := validateName("table", table); err != nil {
		return nil, err
	}
	committed := t.driver.journal[docKey{table: table, id: documentID}]
	revisions := make([]Revision, 0, len(committed))
	revisions = append(revisions, committed...)
	for _, rev := range t.revisions {
		if rev.Table == table && rev.Metadata.ID == documentID {
			revisions = append(revisions, rev)
		}
	}
	return revisions, nil
}

func (t *memTxn) lookup(key docKey) (memDocument, bool) {
	if doc, ok := t.staged[key]; ok {
		return doc, true
	}
	doc, ok := t.driver.documents[key]
	return doc, ok
}

func (t *memTxn) match(table, field, value string) ([]docKey, error) {
	if err := validateName("table", table); err != nil {
		return nil, err
	}
	if err := validateName("field", field); err != nil {
		return nil, err
	}
	seen := make(map[docKey]struct{})
	var keys []docKey
	consider := func(key docKey) {
		if key.table != table {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		doc, _ := t.lookup(key)
		if fieldEquals(doc.data, field, value) {
			keys = append(keys, key)
		}
	}
	for key := range t.staged {
		consider(key)
	}
	for key := range t.driver.documents {
		consider(key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].id < keys[j].id })
	return keys, nil
}
