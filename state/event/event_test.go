package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvent_TypedAccessors(t *testing.T) {
	ev := New("hip_api", 10, Fields{
		"tid":      1,
		"cid":      json.Number("42"),
		"queue_id": "3",
		"dur":      20.0,
		"ratio":    0.5,
		"name":     "hipMalloc",
		"args":     []any{1, "x"},
		"missing":  nil,
	})

	longTests := []struct {
		key  string
		want int64
	}{
		{key: "tid", want: 1},
		{key: "cid", want: 42},
		{key: "queue_id", want: 3},
		{key: "dur", want: 20},
	}
	for _, tc := range longTests {
		t.Run(tc.key, func(t *testing.T) {
			got, ok := ev.Long(tc.key)
			assert.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}

	d, ok := ev.Double("ratio")
	assert.True(t, ok)
	assert.Equal(t, 0.5, d)
	d, ok = ev.Double("tid")
	assert.True(t, ok)
	assert.Equal(t, 1.0, d)
	name, ok := ev.Str("name")
	assert.True(t, ok)
	assert.Equal(t, "hipMalloc", name)

	_, ok = ev.Long("ratio")
	assert.False(t, ok, "fractional float is not an integer")
	_, ok = ev.Str("tid")
	assert.False(t, ok)
	assert.False(t, ev.Has("missing"))
	assert.False(t, ev.Has("absent"))
	arr, ok := ev.Array("args")
	assert.True(t, ok)
	assert.Len(t, arr, 2)
}

func TestFromRecord(t *testing.T) {
	ev, err := FromRecord(map[string]any{
		"name":   "hip_api",
		"ts":     json.Number("15"),
		"tid":    2,
		"fields": map[string]any{"tid": 3, "name": "hipFree_enter"},
	})

	assert.NoError(t, err)
	assert.Equal(t, "hip_api", ev.Name)
	assert.Equal(t, int64(15), ev.Timestamp)
	tid, _ := ev.Long("tid")
	assert.Equal(t, int64(3), tid, "nested fields override flat ones")
	fn, _ := ev.Str("name")
	assert.Equal(t, "hipFree_enter", fn)
}

func TestFromRecord_Malformed(t *testing.T) {
	_, err := FromRecord(map[string]any{"ts": 1})
	assert.Error(t, err)

	_, err = FromRecord(map[string]any{"name": "x", "ts": "soon"})
	assert.Error(t, err)
}
