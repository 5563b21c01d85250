// Package snapshot exports a collection to, and imports it from, zstd-compressed JSON lines.
//
// Each line holds one vector.Record: {"id", "vector", "payload"}. Snapshots are written
// through a Sink, a local directory or an S3-compatible bucket.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"

	"github.com/Zereker/vectorstore/pkg/log"
	"github.com/Zereker/vectorstore/pkg/vector"
)

// Export writes every record of scanner to the snapshot name and returns the record count.
// A failed export leaves no snapshot behind.
func Export(ctx context.Context, scanner vector.Scanner, sink Sink, name string) (int, error) {
	logger := log.Logger("snapshot")

	blob, err := sink.Create(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("create snapshot %s: %w", name, err)
	}

	enc, err := zstd.NewWriter(blob)
	if err != nil {
		_ = blob.Abort()
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}

	count := 0
	lines := json.NewEncoder(enc)
	err = scanner.Scan(ctx, func(r vector.Record) error {
		if err := lines.Encode(r); err != nil {
			return fmt.Errorf("encode record %s: %w", r.ID, err)
		}
		count++
		return nil
	})
	if err == nil {
		err = enc.Close()
	} else {
		_ = enc.Close()
	}
	if err != nil {
		_ = blob.Abort()
		return 0, fmt.Errorf("export %s: %w", name, err)
	}

	if err := blob.Close(); err != nil {
		return 0, fmt.Errorf("commit snapshot %s: %w", name, err)
	}

	logger.Info("exported snapshot", "name", name, "records", count)
	return count, nil
}

// ImportOptions tunes Import.
type ImportOptions struct {
	// BatchSize is the number of records per Insert call, 100 when <= 0.
	BatchSize int
	// RecordsPerSecond throttles inserts. Zero means unthrottled.
	RecordsPerSecond float64
}

// ImportResult reports an import.
type ImportResult struct {
	Written   int      `json:"written"`
	Failed    int      `json:"failed"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// Import inserts every record of the snapshot name into store. Records that fail to
// insert are counted and reported; they do not stop the import. Records exported with
// a raw, non-object payload are reported as failed.
func Import(ctx context.Context, store vector.Store, sink Sink, name string, opts ImportOptions) (ImportResult, error) {
	logger := log.Logger("snapshot")

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	var limiter *rate.Limiter
	if opts.RecordsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RecordsPerSecond), batchSize)
	}

	r, err := sink.Open(ctx, name)
	if err != nil {
		return ImportResult{}, err
	}
	defer r.Close()

	dec, err := zstd.NewReader(r)
	if err != nil {
		return ImportResult{}, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	var (
		result ImportResult
		batch  []vector.Record
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if limiter != nil {
			if err := limiter.WaitN(ctx, len(batch)); err != nil {
				return err
			}
		}

		ids := make([]string, len(batch))
		vectors := make([][]float32, len(batch))
		payloads := make([]map[string]any, len(batch))
		for i, rec := range batch {
			ids[i], vectors[i], payloads[i] = rec.ID, rec.Vector, rec.Payload
		}

		results, err := store.Insert(ctx, vectors, payloads, ids)
		if err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		failed := vector.FailedIDs(results)
		result.Failed += len(failed)
		result.FailedIDs = append(result.FailedIDs, failed...)
		result.Written += len(results) - len(failed)

		batch = batch[:0]
		return nil
	}

	lines := json.NewDecoder(dec)
	lines.UseNumber()
	for {
		var rec vector.Record
		err := lines.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("decode %s after %d records: %w", name, result.Written+result.Failed+len(batch), err)
		}
		if rec.ID == "" {
			result.Failed++
			continue
		}
		if rec.Payload == nil && rec.RawPayload != "" {
			// Insert only takes structured payloads; restoring it would lose the original text.
			logger.Warn("record payload is not a JSON object, not importing", "name", name, "id", rec.ID)
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, rec.ID)
			continue
		}

		batch = append(batch, rec)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	logger.Info("imported snapshot", "name", name, "written", result.Written, "failed", result.Failed)
	return result, nil
}
