package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobEnvelopeRoundTrip(t *testing.T) {
	eventID := uuid.New()
	payload, err := json.Marshal(EngagementRollupPayload{EventID: eventID})
	require.NoError(t, err)

	job := Job{
		ID:        uuid.New().String(),
		Type:      JobTypeEngagementRollup,
		Payload:   payload,
		CreatedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	raw, err := json.Marshal(job)
	require.NoError(t, err)

	var decoded Job
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, JobTypeEngagementRollup, decoded.Type)

	var p EngagementRollupPayload
	require.NoError(t, json.Unmarshal(decoded.Payload, &p))
	assert.Equal(t, eventID, p.EventID)
}
