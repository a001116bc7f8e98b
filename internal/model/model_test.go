package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDKinds(t *testing.T) {
	tmp := NewTemporaryID()
	assert.True(t, tmp.Temporary())
	assert.False(t, tmp.Persisted())
	assert.NotEqual(t, tmp, NewTemporaryID())

	page := NewTemporaryPageID()
	assert.True(t, page.Temporary())

	real := NewPersistedID()
	assert.True(t, real.Persisted())
	assert.False(t, ID("").Persisted())
}

func TestFieldCloneIsDeep(t *testing.T) {
	v, r := "Alice", "rcp_1"
	f := Field{ID: "f1", Value: &v, RecipientID: &r, Options: []string{"a", "b"}}
	c := f.Clone()
	*c.Value = "Bob"
	c.Options[0] = "z"

	assert.Equal(t, "Alice", *f.Value)
	assert.Equal(t, "a", f.Options[0])
	assert.False(t, f.Equal(c))
	assert.True(t, f.Equal(f.Clone()))
}

func TestDocumentHelpers(t *testing.T) {
	r1, r2 := "r1", "r2"
	doc := Document{
		Pages: []Page{
			{PageNumber: 1, Fields: []Field{{ID: "a", RecipientID: &r1}, {ID: "b", RecipientID: &r2}}},
			{PageNumber: 2, Fields: []Field{{ID: "c", RecipientID: &r1}, {ID: "d"}}},
		},
		Recipients: []Recipient{{ID: "r1"}, {ID: "r2"}},
	}
	fields := doc.FieldsFor("r1")
	require.Len(t, fields, 2)
	assert.Equal(t, ID("a"), fields[0].ID)
	assert.Equal(t, ID("c"), fields[1].ID)

	_, ok := doc.Recipient("r3")
	assert.False(t, ok)
	assert.False(t, doc.AllSubmitted())
}

func TestSyncResponseWireShape(t *testing.T) {
	body, err := json.Marshal(SyncResponse{Success: true, FieldIDMappings: IDMapping{"temp_1": "abc"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"fieldIdMappings":{"temp_1":"abc"}}`, string(body))
}
