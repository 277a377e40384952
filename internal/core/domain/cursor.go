package domain

import "time"

// BlockCursor records the last block fully processed by one indexing stream.
type BlockCursor struct {
	StreamID           string    `db:"stream_id"            json:"stream_id"`
	LastProcessedBlock uint64    `db:"last_processed_block" json:"last_processed_block"`
	UpdatedAt          time.Time `db:"updated_at"           json:"updated_at"`
}

// NextBlock is the first block the stream has not yet processed.
func (c *BlockCursor) NextBlock() uint64 {
	return c.LastProcessedBlock + 1
}
