package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordJSON_Flattened(t *testing.T) {
	r := Record{ID: "42", Fields: Fields{"canteen": "North", "result": "pass"}, Status: StatusSynced}
	data, err := json.Marshal(r)
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(data, &obj))
	assert.Equal(t, float64(42), obj["id"])
	assert.Equal(t, "North", obj["canteen"])
	assert.Equal(t, "synced", obj["_status"])

	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, RecordID("42"), back.ID)
	assert.Equal(t, StatusSynced, back.Status)
	assert.Equal(t, Fields{"canteen": "North", "result": "pass"}, back.Fields)
}

func TestRecordJSON_MissingID(t *testing.T) {
	var r Record
	err := json.Unmarshal([]byte(`{"canteen":"x"}`), &r)
	require.Error(t, err)
}

func TestRecordIDJSON(t *testing.T) {
	data, err := json.Marshal(RecordID("temp_0000000000001_abcd1234"))
	require.NoError(t, err)
	assert.Equal(t, `"temp_0000000000001_abcd1234"`, string(data))

	data, err = json.Marshal(RecordID("7"))
	require.NoError(t, err)
	assert.Equal(t, `7`, string(data))

	var id RecordID
	require.NoError(t, json.Unmarshal([]byte(`128`), &id))
	assert.Equal(t, RecordID("128"), id)
	require.NoError(t, json.Unmarshal([]byte(`"abc"`), &id))
	assert.Equal(t, RecordID("abc"), id)
	require.NoError(t, json.Unmarshal([]byte(`null`), &id))
	assert.Equal(t, RecordID(""), id)
}

func TestNewLocalID(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	id := NewLocalID(now)
	assert.True(t, id.IsLocal())
	assert.True(t, strings.HasPrefix(id.String(), "temp_1700000000123_"))
	assert.NotEqual(t, id, NewLocalID(now))
	assert.False(t, RecordID("42").IsLocal())
}

func TestSortNewestFirst(t *testing.T) {
	older := NewLocalID(time.UnixMilli(1000))
	newer := NewLocalID(time.UnixMilli(2000))
	records := []Record{
		{ID: "9"}, {ID: "abc"}, {ID: older}, {ID: "10"}, {ID: newer}, {ID: "2"},
	}
	SortNewestFirst(records)

	var got []RecordID
	for _, r := range records {
		got = append(got, r.ID)
	}
	assert.Equal(t, []RecordID{newer, older, "10", "9", "2", "abc"}, got)
}

func TestFieldsMergeAndStrip(t *testing.T) {
	base := Fields{"a": 1, "b": 2}
	merged := base.Merge(Fields{"b": 3, "c": 4})
	assert.Equal(t, Fields{"a": 1, "b": 3, "c": 4}, merged)
	assert.Equal(t, Fields{"a": 1, "b": 2}, base, "Merge must not modify the receiver")

	f := Fields{"id": 1, "_status": "pending", "x": true}.Strip()
	assert.Equal(t, Fields{"x": true}, f)
}

func TestPendingRequestRecordKey(t *testing.T) {
	create := PendingRequest{Kind: KindCreate, LocalID: "temp_1"}
	amend := PendingRequest{Kind: KindAmendPendingCreate, LocalID: "temp_1"}
	update := PendingRequest{Kind: KindUpdate, TargetID: "5"}
	assert.Equal(t, RecordID("temp_1"), create.RecordKey())
	assert.Equal(t, RecordID("temp_1"), amend.RecordKey())
	assert.Equal(t, RecordID("5"), update.RecordKey())

	assert.False(t, KindCreate.Retryable())
	assert.True(t, KindUpdate.Retryable())
	assert.True(t, KindDelete.Retryable())
}
