package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretBoxRoundTrip(t *testing.T) {
	box, err := NewSecretBox("test-secret")
	require.NoError(t, err)

	token, err := box.Seal("groups/ag-wolf/raw-data")
	require.NoError(t, err)
	assert.NotEqual(t, "groups/ag-wolf/raw-data", token)

	plain, err := box.Open(token)
	require.NoError(t, err)
	assert.Equal(t, "groups/ag-wolf/raw-data", plain)
}

func TestSecretBoxSealIsNonDeterministic(t *testing.T) {
	box, err := NewSecretBox("test-secret")
	require.NoError(t, err)

	a, err := box.Seal("same value")
	require.NoError(t, err)
	b, err := box.Seal("same value")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestSecretBoxOpenRejectsGarbage(t *testing.T) {
	box, err := NewSecretBox("test-secret")
	require.NoError(t, err)

	_, err = box.Open("not-base64!!!")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = box.Open("c2hvcnQ=")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestSecretBoxWrongKeyFails(t *testing.T) {
	box1, err := NewSecretBox("key-one")
	require.NoError(t, err)
	box2, err := NewSecretBox("key-two")
	require.NoError(t, err)

	token, err := box1.Seal("payload")
	require.NoError(t, err)

	_, err = box2.Open(token)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestNewSecretBoxEmptySecret(t *testing.T) {
	_, err := NewSecretBox("")
	assert.Error(t, err)
}
