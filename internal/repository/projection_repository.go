package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/sufragio-api/internal/models"
	appErrors "github.com/noah-isme/sufragio-api/pkg/errors"
)

const projectionWatchAttempts = 5

// ProjectionDecider decides whether a revision may be applied on top of the last projected
// version. found is false when nothing has been projected for the document yet.
type ProjectionDecider func(last int64, found bool, next int64) (bool, error)

// ProjectionRepository keeps the read model of voting records in Redis. Each document is
// a hash at <prefix>:<documentId>; with history enabled every applied revision is also
// pushed onto <prefix>:<documentId>:revisions.
type ProjectionRepository struct {
	client      *redis.Client
	prefix      string
	keepHistory bool
	logger      *zap.Logger
}

// NewProjectionRepository constructs a projection repository.
func NewProjectionRepository(client *redis.Client, prefix string, keepHistory bool, logger *zap.Logger) *ProjectionRepository {
	if prefix == "" {
		prefix = "sufragio:projection"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProjectionRepository{client: client, prefix: prefix, keepHistory: keepHistory, logger: logger}
}

func (r *ProjectionRepository) viewKey(documentID string) string {
	return fmt.Sprintf("%s:%s", r.prefix, documentID)
}

func (r *ProjectionRepository) historyKey(documentID string) string {
	return fmt.Sprintf("%s:%s:revisions", r.prefix, documentID)
}

// Apply writes view when decide accepts it. The read of the last version and the write
// happen under WATCH so concurrent appliers of the same document cannot interleave.
func (r *ProjectionRepository) Apply(ctx context.Context, view models.ProjectedRecord, decide ProjectionDecider) (bool, error) {
	if r.client == nil {
		return false, appErrors.ErrUnavailable
	}
	record, err := json.Marshal(view.Record)
	if err != nil {
		return false, fmt.Errorf("marshal projected record %s: %w", view.DocumentID, err)
	}
	var entry []byte
	if r.keepHistory {
		if entry, err = json.Marshal(view); err != nil {
			return false, fmt.Errorf("marshal projected revision %s: %w", view.DocumentID, err)
		}
	}

	key := r.viewKey(view.DocumentID)
	applied := false
	txf := func(tx *redis.Tx) error {
		applied = false
		raw, err := tx.HGet(ctx, key, "version").Result()
		found := true
		if errors.Is(err, redis.Nil) {
			found = false
		} else if err != nil {
			return fmt.Errorf("redis hget %s: %w", key, err)
		}
		var last int64
		if found {
			if last, err = strconv.ParseInt(raw, 10, 64); err != nil {
				return fmt.Errorf("parse projected version of %s: %w", view.DocumentID, err)
			}
		}
		ok, err := decide(last, found, view.Version)
		if err != nil || !ok {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"version", view.Version,
				"txId", view.TxID,
				"txTime", view.TxTime.UTC().Format(time.RFC3339Nano),
				"hash", view.Hash,
				"record", record,
			)
			if r.keepHistory {
				pipe.RPush(ctx, r.historyKey(view.DocumentID), entry)
			}
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}

	for attempt := 0; attempt < projectionWatchAttempts; attempt++ {
		err = r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return applied, err
		}
		r.logger.Debug("projection watch conflict", zap.String("document_id", view.DocumentID), zap.Int("attempt", attempt+1))
	}
	return false, fmt.Errorf("projection of %s kept conflicting: %w", view.DocumentID, err)
}

// Get returns the projected view of a document, or ErrCacheMiss.
func (r *ProjectionRepository) Get(ctx context.Context, documentID string) (*models.ProjectedRecord, error) {
	if r.client == nil {
		return nil, appErrors.ErrCacheMiss
	}
	key := r.viewKey(documentID)
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, appErrors.ErrCacheMiss
	}

	view := &models.ProjectedRecord{DocumentID: documentID, TxID: fields["txId"], Hash: fields["hash"]}
	if view.Version, err = strconv.ParseInt(fields["version"], 10, 64); err != nil {
		return nil, fmt.Errorf("parse projected version of %s: %w", documentID, err)
	}
	if ts := fields["txTime"]; ts != "" {
		if view.TxTime, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse projected txTime of %s: %w", documentID, err)
		}
	}
	if err := json.Unmarshal([]byte(fields["record"]), &view.Record); err != nil {
		return nil, fmt.Errorf("unmarshal projected record %s: %w", documentID, err)
	}
	return view, nil
}

// Revisions returns every projected revision of a document in apply order.
func (r *ProjectionRepository) Revisions(ctx context.Context, documentID string) ([]models.ProjectedRecord, error) {
	if r.client == nil || !r.keepHistory {
		return nil, nil
	}
	key := r.historyKey(documentID)
	raw, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", key, err)
	}
	out := make([]models.ProjectedRecord, 0, len(raw))
	for _, item := range raw {
		var view models.ProjectedRecord
		if err := json.Unmarshal([]byte(item), &view); err != nil {
			return nil, fmt.Errorf("unmarshal projected revision of %s: %w", documentID, err)
		}
		out = append(out, view)
	}
	return out, nil
}

// Ping reports whether Redis is reachable.
func (r *ProjectionRepository) Ping(ctx context.Context) error {
	if r.client == nil {
		return appErrors.ErrUnavailable
	}
	return r.client.Ping(ctx).Err()
}
