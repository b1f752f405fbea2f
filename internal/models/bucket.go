package models

import (
	"time"

	"github.com/google/uuid"
)

// AccessBucket is a fixed-width concurrency rollup: one row per
// (event, bucket_time). Samples are folded in incrementally and the bucket is
// never recomputed from raw history, so raw presence rows can be pruned
// independently of bucket retention.
//
// Invariant for SampleCount > 0: Min <= Sum/SampleCount <= Max, and Last is
// the most recently folded sample.
type AccessBucket struct {
	EventID          uuid.UUID `json:"event_id"`
	BucketTime       time.Time `json:"bucket_time"`
	SampleCount      int       `json:"sample_count"`
	SumParticipants  int64     `json:"sum_participants"`
	MinParticipants  int       `json:"min_participants"`
	MaxParticipants  int       `json:"max_participants"`
	LastParticipants int       `json:"last_participants"`
}

// Avg returns the bucket's average participant count, 0 when empty.
func (b *AccessBucket) Avg() float64 {
	if b.SampleCount == 0 {
		return 0
	}
	return float64(b.SumParticipants) / float64(b.SampleCount)
}
