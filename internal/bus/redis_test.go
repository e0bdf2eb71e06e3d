package bus

import (
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestIsBusyGroup(t *testing.T) {
	assert.True(t, isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")))
	assert.False(t, isBusyGroup(errors.New("ERR no such key")))
	assert.False(t, isBusyGroup(nil))
}

func TestExtractPayload(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
		want   []byte
	}{
		{
			name:   "string value",
			values: map[string]any{"payload": `{"job_id":"j-1"}`},
			want:   []byte(`{"job_id":"j-1"}`),
		},
		{
			name:   "byte value",
			values: map[string]any{"payload": []byte(`{}`)},
			want:   []byte(`{}`),
		},
		{
			name:   "missing field",
			values: map[string]any{"other": "x"},
			want:   nil,
		},
		{
			name:   "unexpected type",
			values: map[string]any{"payload": 42},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractPayload(tt.values))
		})
	}
}

func TestMessageFromStream(t *testing.T) {
	msg := &redis.XMessage{
		ID:     "1700000000000-0",
		Values: map[string]any{"payload": `{"job_id":"j-1"}`},
	}

	got := messageFromStream("docsmith.jobs", msg, 3)
	assert.Equal(t, "1700000000000-0", got.ID)
	assert.Equal(t, "docsmith.jobs", got.Topic)
	assert.Equal(t, []byte(`{"job_id":"j-1"}`), got.Payload)
	assert.Equal(t, int64(3), got.DeliveryCount)
}
