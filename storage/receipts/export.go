package receipts

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRow struct {
	ID         string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	SaleID     string `parquet:"name=sale_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Actor      string `parquet:"name=actor, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp  string `parquet:"name=timestamp, type=BYTE_ARRAY, convertedtype=UTF8"`
	PrevDigest string `parquet:"name=prev_digest, type=BYTE_ARRAY, convertedtype=UTF8"`
	Digest     string `parquet:"name=digest, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet writes every receipt matching f to path and returns the number
// of rows written. Limit is ignored.
func (s *Store) ExportParquet(ctx context.Context, path string, f Filter) (int, error) {
	if s == nil || s.db == nil {
		return 0, errNilStore
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("receipts: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("receipts: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	written := 0
	err = s.eachBatch(ctx, f, func(batch []Receipt) error {
		for i := range batch {
			rec := &batch[i]
			row := &parquetRow{
				ID:         rec.ID.String(),
				Sequence:   int64(rec.Sequence),
				SaleID:     rec.SaleID,
				Type:       rec.Type,
				Actor:      rec.Actor,
				Attributes: rec.Attributes,
				Timestamp:  time.Unix(0, rec.Timestamp).UTC().Format(time.RFC3339Nano),
				PrevDigest: rec.PrevDigest,
				Digest:     rec.Digest,
			}
			if err := pw.Write(row); err != nil {
				return fmt.Errorf("receipts: parquet write: %w", err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		pw.WriteStop()
		file.Close()
		return 0, err
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return 0, fmt.Errorf("receipts: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("receipts: close parquet file: %w", err)
	}
	return written, nil
}
