package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("S3cret!pw")
	require.NoError(t, err)
	assert.NotEqual(t, "S3cret!pw", hash)

	assert.True(t, CheckPassword(hash, "S3cret!pw"))
	assert.False(t, CheckPassword(hash, "s3cret!pw"))
	assert.False(t, CheckPassword("not-a-hash", "S3cret!pw"))
}
