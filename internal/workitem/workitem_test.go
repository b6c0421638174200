package workitem

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/dirindex/internal/participant"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestKey_IgnoresOwnerHostIDAndTime(t *testing.T) {
	// Given: two requests for the same participant and kind from different owners
	key := participant.MustParse("9915:test0")
	a := New(key, CreateOrUpdate, "owner-a", "host-a", testNow)
	b := New(key, CreateOrUpdate, "owner-b", "host-b", testNow.Add(time.Hour))

	// Then: they share a dedup key but not an ID
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.ID, b.ID)
}

func TestKey_KindIsPartOfIdentity(t *testing.T) {
	key := participant.MustParse("9915:test0")
	create := New(key, CreateOrUpdate, "o", "h", testNow)
	del := New(key, Delete, "o", "h", testNow)

	assert.NotEqual(t, create.Key(), del.Key())

	set := map[Key]struct{}{create.Key(): {}, del.Key(): {}}
	assert.Len(t, set, 2)
}

func TestLogText(t *testing.T) {
	item := New(participant.MustParse("9915:test0"), Delete, "CN=SMP", "h", testNow)

	assert.Equal(t, "CN=SMP@DELETE[iso6523-actorid-upis::9915:test0]", item.LogText())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("create_or_update")
	require.NoError(t, err)
	assert.Equal(t, CreateOrUpdate, k)

	k, err = ParseKind(" DELETE ")
	require.NoError(t, err)
	assert.Equal(t, Delete, k)

	_, err = ParseKind("UPSERT")
	assert.Error(t, err)
}

func TestWorkItem_JSON(t *testing.T) {
	// Given: a work item
	item := New(participant.MustParse("9915:test0"), CreateOrUpdate, "owner", "host", testNow)

	// When: encoding and decoding it
	data, err := json.Marshal(item)
	require.NoError(t, err)
	var got WorkItem
	require.NoError(t, json.Unmarshal(data, &got))

	// Then: the item is unchanged and the kind is spelled out
	assert.Equal(t, item, got)
	assert.Contains(t, string(data), `"kind":"CREATE_OR_UPDATE"`)
}

func TestWorkItem_UnknownKindRejected(t *testing.T) {
	var got WorkItem
	err := json.Unmarshal([]byte(`{"id":"x","kind":"UPSERT"}`), &got)

	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, New(participant.MustParse("9915:a"), Delete, "o", "h", testNow).Validate())
	assert.Error(t, WorkItem{ID: "x", Kind: Delete}.Validate())
	assert.Error(t, WorkItem{ID: "x", Participant: participant.MustParse("9915:a")}.Validate())
}
