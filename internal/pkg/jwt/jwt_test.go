package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgErrors "deploy-server/pkg/errors"
)

func TestValidateToken(t *testing.T) {
	token, err := GenerateAccessToken("secret", "alice", "Alice", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "Alice", claims.DisplayName)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	token, err := GenerateAccessToken("secret", "alice", "", time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken("other", token)
	var appErr *pkgErrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, pkgErrors.CodeUnauthorized, appErr.Code)
}

func TestValidateToken_Expired(t *testing.T) {
	token, err := GenerateAccessToken("secret", "alice", "", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken("secret", token)
	assert.Equal(t, pkgErrors.ErrTokenExpired, err)
}
