package jwttoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "github.com/vishalp-65/patient-case-notes-system/pkg/domain"
	dErrors "github.com/vishalp-65/patient-case-notes-system/pkg/domain-errors"
)

var jwtService = NewJWTService("test-signing-key", "case-notes")

func Test_GenerateActorToken(t *testing.T) {
	userID := id.NewUserID()
	token, err := jwtService.GenerateActorToken(userID, id.RoleDoctor, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jwtService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, "doctor", claims.Role)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := jwtService.ValidateToken("invalid-token-string")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	assert.Equal(t, "invalid token", dErrors.MessageOf(err))
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	token, err := jwtService.GenerateActorToken(id.NewUserID(), id.RoleAdmin, -time.Hour)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	assert.Equal(t, "token has expired", dErrors.MessageOf(err))
}

func Test_ValidateToken_WrongIssuer(t *testing.T) {
	other := NewJWTService("test-signing-key", "someone-else")
	token, err := other.GenerateActorToken(id.NewUserID(), id.RoleDoctor, time.Hour)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_ValidateActor(t *testing.T) {
	userID := id.NewUserID()
	token, err := jwtService.GenerateActorToken(userID, id.RoleAdmin, time.Hour)
	require.NoError(t, err)

	gotUser, gotRole, err := jwtService.ValidateActor(token)
	require.NoError(t, err)
	assert.Equal(t, userID, gotUser)
	assert.Equal(t, id.RoleAdmin, gotRole)

	bad, err := jwtService.GenerateActorToken(userID, id.Role("nurse"), time.Hour)
	require.NoError(t, err)
	_, _, err = jwtService.ValidateActor(bad)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
