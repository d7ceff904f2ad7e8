package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	oid, err := ParseID("507f1f77bcf86cd799439011")
	require.NoError(t, err)
	assert.Equal(t, "507f1f77bcf86cd799439011", oid.Hex())

	for _, id := range []string{"", "clip.mp4", "507f1f77bcf86cd79943901", "zz7f1f77bcf86cd799439011"} {
		_, err := ParseID(id)
		assert.ErrorIs(t, err, ErrInvalidID, id)
		assert.False(t, ValidID(id), id)
	}
}

func TestVideoDocumentConversion(t *testing.T) {
	oid, err := ParseID("507f1f77bcf86cd799439011")
	require.NoError(t, err)

	v := videoDocument{ID: oid, Name: "clip.mp4"}.video()
	assert.Equal(t, Video{ID: "507f1f77bcf86cd799439011", Name: "clip.mp4"}, v)
}
