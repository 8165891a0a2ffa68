package ingestlog

import (
	"context"

	"github.com/fetchwell/ingestcore/internal/metastore"
)

// Consumer pairs a Reader with committed-offset tracking in the metastore, so
// a restarted parser resumes exactly where it left off.
type Consumer struct {
	id    string
	root  string
	meta  metastore.Store
	reader *Reader
}

// NewConsumer opens a reader for consumerID, resuming from its last committed
// offset (or the earliest available day if none is recorded).
func NewConsumer(ctx context.Context, root, consumerID string, meta metastore.Store) (*Consumer, error) {
	start := Position{}
	days, err := listDays(root)
	if err != nil {
		return nil, err
	}
	for _, day := range days {
		offset, found, err := meta.OffsetGet(ctx, consumerID, day)
		if err != nil {
			return nil, err
		}
		if found {
			start = Position{FileDate: day, ByteOffset: offset}
		}
	}

	reader, err := NewReader(root, start)
	if err != nil {
		return nil, err
	}
	return &Consumer{id: consumerID, root: root, meta: meta, reader: reader}, nil
}

// Next returns the next record and its position, or ErrEndOfStream.
func (c *Consumer) Next() ([]byte, Position, error) {
	return c.reader.Next()
}

// Commit durably records pos as this consumer's progress.
func (c *Consumer) Commit(ctx context.Context, pos Position) error {
	return c.meta.OffsetCommit(ctx, c.id, pos.FileDate, pos.ByteOffset)
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
