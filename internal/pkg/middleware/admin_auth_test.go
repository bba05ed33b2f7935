package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminAuthorizerPlainPassword(t *testing.T) {
	authorize := AdminAuthorizer(map[string]string{"admin": "secret", "empty": ""})

	assert.True(t, authorize("admin", "secret"))
	assert.False(t, authorize("admin", "wrong"))
	assert.False(t, authorize("nobody", "secret"))
	assert.False(t, authorize("empty", ""))
}

func TestAdminAuthorizerBcryptHash(t *testing.T) {
	hash, err := HashAdminPassword("s3cret")
	require.NoError(t, err)
	require.True(t, isBcryptHash(hash))

	authorize := AdminAuthorizer(map[string]string{"admin": hash})
	assert.True(t, authorize("admin", "s3cret"))
	assert.False(t, authorize("admin", hash))
	assert.False(t, authorize("admin", "other"))
}
