package queue

import (
	"testing"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventValuesRoundTripThroughStreamEntry(t *testing.T) {
	ev := domain.DetectionEvent{
		AnalysisID:   uuid.New(),
		RequestID:    "req-42",
		Messages:     []domain.Message{{Role: "A", Text: "Du hörst nie zu"}, {Role: "B", Text: "Entschuldigung"}},
		Detections:   []domain.Detection{{MarkerID: "ATO_ABSOLUTIZER", Layer: domain.LayerAtomic, Confidence: 1, MessageIndices: []int{0}}},
		MessageVAD:   []domain.VAD{{Valence: -0.3, Arousal: 0.5, Dominance: 0.6}, {}},
		StateIndices: domain.StateIndices{Trust: 0.3, ContributingMarkers: 1},
	}

	values, err := eventValues(ev)
	require.NoError(t, err)
	assert.Equal(t, ev.AnalysisID.String(), values["analysis_id"])
	assert.Equal(t, "2", values["message_count"])
	assert.Equal(t, "1", values["detection_count"])

	got, err := DecodeEvent(redis.XMessage{ID: "1-0", Values: values})
	require.NoError(t, err)
	assert.Equal(t, ev.AnalysisID, got.AnalysisID)
	assert.Equal(t, ev.Messages, got.Messages)
	assert.Equal(t, ev.MessageVAD, got.MessageVAD)
	assert.Equal(t, "ATO_ABSOLUTIZER", got.Detections[0].MarkerID)
}

func TestDecodeEventWithoutPayload(t *testing.T) {
	_, err := DecodeEvent(redis.XMessage{ID: "1-0", Values: map[string]any{}})
	assert.Error(t, err)
}

func TestConnectRedisRejectsBadURL(t *testing.T) {
	_, err := ConnectRedis("not a url")
	assert.Error(t, err)

	c, err := ConnectRedis("redis://localhost:6379/2")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Options().DB)
	_ = c.Close()
}
