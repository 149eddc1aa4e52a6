package httpapi

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionVerifier_MissingUserID(t *testing.T) {
	v := NewSessionVerifier(testSecret)
	token, err := v.Sign(SessionClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "caregiver"}})
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrSessionRejected)
}

func TestSessionVerifier_RejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, SessionClaims{UserID: 1}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewSessionVerifier(testSecret).Verify(token)
	assert.ErrorIs(t, err, ErrSessionRejected)
}

func TestSessionVerifier_Disabled(t *testing.T) {
	v := NewSessionVerifier("")
	assert.False(t, v.Enabled())

	_, err := v.Sign(SessionClaims{UserID: 1})
	assert.ErrorIs(t, err, ErrSessionRejected)
	_, err = v.Verify("anything")
	assert.ErrorIs(t, err, ErrSessionRejected)
}
