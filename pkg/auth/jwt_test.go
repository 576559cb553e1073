package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{SecretKey: "secret", Issuer: "taskqueue", TokenExpiry: time.Hour})
	require.NoError(t, err)

	token, err := svc.GenerateToken("u1", "alice", RoleOperator, "org1")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, RoleOperator, claims.Role)
}

func TestValidateTokenRejectsTampered(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{SecretKey: "secret", Issuer: "taskqueue"})
	require.NoError(t, err)

	token, err := svc.GenerateToken("u1", "alice", RoleViewer, "")
	require.NoError(t, err)

	_, err = svc.ValidateToken(token + "tamper")
	require.Error(t, err)
}

func TestRoleHasPermission(t *testing.T) {
	assert.True(t, RoleAdmin.HasPermission(RoleOperator))
	assert.False(t, RoleViewer.HasPermission(RoleOperator))
}
