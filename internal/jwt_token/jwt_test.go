package jwttoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "acsadmin/pkg/domain"
	dErrors "acsadmin/pkg/domain-errors"
)

var jwtService = NewJWTService("test-signing-key", "acs-admin", "acs-admin-panel", time.Hour)

func Test_IssueAndValidate(t *testing.T) {
	accountID := id.NewAccountID()
	now := time.Now()

	token, expiresAt, err := jwtService.Issue(accountID, "ACS-07", 3, now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(time.Hour), expiresAt, time.Second)

	claims, err := jwtService.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, accountID.String(), claims.AccountID)
	assert.Equal(t, "ACS-07", claims.Code)
	assert.Equal(t, int64(3), claims.Epoch)
	assert.NotEmpty(t, claims.ID)
}

func Test_Validate_Expired(t *testing.T) {
	token, _, err := jwtService.Issue(id.NewAccountID(), "ACS-01", 0, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	_, err = jwtService.Validate(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	assert.ErrorContains(t, err, "token expired")
}

func Test_Validate_WrongKeyOrAudience(t *testing.T) {
	other := NewJWTService("other-key", "acs-admin", "acs-admin-panel", time.Hour)
	token, _, err := other.Issue(id.NewAccountID(), "ACS-01", 0, time.Now())
	require.NoError(t, err)
	_, err = jwtService.Validate(token)
	assert.ErrorContains(t, err, "invalid token")

	foreign := NewJWTService("test-signing-key", "acs-admin", "someone-else", time.Hour)
	token, _, err = foreign.Issue(id.NewAccountID(), "ACS-01", 0, time.Now())
	require.NoError(t, err)
	_, err = jwtService.Validate(token)
	assert.ErrorContains(t, err, "invalid token")
}

func Test_Validate_RejectsNoneAlgorithm(t *testing.T) {
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, AccessTokenClaims{AccountID: "x"})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = jwtService.Validate(token)
	assert.Error(t, err)
}
