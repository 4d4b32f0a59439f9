package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/strand-jobs/pkg/core"
)

func TestFingerprint_IgnoresKeyOrderAndWhitespace(t *testing.T) {
	a, err := Fingerprint(core.TypeReindexStrand, []byte(`{"strandPath":"a.md","reindexBlocks":true}`))
	require.NoError(t, err)
	b, err := Fingerprint(core.TypeReindexStrand, []byte("{\n  \"reindexBlocks\": true,\n  \"strandPath\": \"a.md\"\n}"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func TestFingerprint_NestedStructuresAreCanonical(t *testing.T) {
	a, err := Fingerprint(core.TypeBulkTag, []byte(`{"tags":["x","y"],"filter":{"b":1,"a":{"d":2,"c":3}}}`))
	require.NoError(t, err)
	b, err := Fingerprint(core.TypeBulkTag, []byte(`{"filter":{"a":{"c":3,"d":2},"b":1},"tags":["x","y"]}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Array order is significant.
	c, err := Fingerprint(core.TypeBulkTag, []byte(`{"filter":{"a":{"c":3,"d":2},"b":1},"tags":["y","x"]}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestFingerprint_DependsOnType(t *testing.T) {
	payload := []byte(`{"strandPath":"a.md"}`)
	a, err := Fingerprint(core.TypeReindexStrand, payload)
	require.NoError(t, err)
	b, err := Fingerprint(core.TypePublishStrand, payload)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestFingerprint_DistinguishesValues(t *testing.T) {
	a, _ := Fingerprint(core.TypeReindexStrand, []byte(`{"strandPath":"a.md"}`))
	b, _ := Fingerprint(core.TypeReindexStrand, []byte(`{"strandPath":"b.md"}`))
	assert.NotEqual(t, a, b)

	// Large integers keep their literal form instead of collapsing through float64.
	c, _ := Fingerprint(core.TypeReindexStrand, []byte(`{"n":9007199254740993}`))
	d, _ := Fingerprint(core.TypeReindexStrand, []byte(`{"n":9007199254740992}`))
	assert.NotEqual(t, c, d)
}

func TestFingerprint_IsDeterministic(t *testing.T) {
	payload := []byte(`{"z":1,"y":[1,2,{"b":null,"a":false}],"x":"s"}`)
	first, err := Fingerprint(core.TypeExportZip, payload)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		got, err := Fingerprint(core.TypeExportZip, payload)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
}

func TestFingerprint_InvalidJSON(t *testing.T) {
	_, err := Fingerprint(core.TypeReindexStrand, []byte(`{"strandPath":`))
	assert.ErrorIs(t, err, core.ErrInvalidPayload)

	_, err = Fingerprint(core.TypeReindexStrand, []byte(`{} {}`))
	assert.ErrorIs(t, err, core.ErrInvalidPayload)
}

func TestCanonicalize(t *testing.T) {
	got, err := Canonicalize([]byte(` { "b" : [ 1 , 2.50 ] , "a" : "é<>" } `))
	require.NoError(t, err)
	assert.Equal(t, `{"a":"é\u003c\u003e","b":[1,2.50]}`, string(got))

	got, err = Canonicalize(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(got))
}
