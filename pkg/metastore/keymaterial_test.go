package metastore

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyra-app/securestore/pkg/crypt"
)

func validMaterial() KeyMaterial {
	return KeyMaterial{
		AESKey: bytes.Repeat([]byte{0x01}, crypt.KeyLength),
		IV:     bytes.Repeat([]byte{0x02}, crypt.IVLength),
		Tag:    bytes.Repeat([]byte{0x03}, crypt.TagLength),
	}
}

func TestKeyMaterialJSONRoundTrip(t *testing.T) {
	m := validMaterial()

	data, err := json.Marshal(m)
	require.NoError(t, err)

	// Stored shape is exactly {aesKey, iv, tag}, all base64.
	var raw map[string]string
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Len(t, raw, 3)
	assert.Contains(t, raw, "aesKey")
	assert.Contains(t, raw, "iv")
	assert.Contains(t, raw, "tag")

	var decoded KeyMaterial
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, m, decoded)
}

func TestKeyMaterialRejectsWrongLengths(t *testing.T) {
	short := validMaterial()
	short.AESKey = short.AESKey[:16]
	_, err := json.Marshal(short)
	assert.True(t, errors.Is(err, crypt.ErrInvalidKeyMaterial))

	cases := map[string]string{
		"short key":  `{"aesKey":"YQ==","iv":"AAAAAAAAAAAAAAAA","tag":"AAAAAAAAAAAAAAAAAAAAAA=="}`,
		"bad base64": `{"aesKey":"***","iv":"AAAAAAAAAAAAAAAA","tag":"AAAAAAAAAAAAAAAAAAAAAA=="}`,
		"empty":      `{}`,
		"not json":   `"nope"`,
	}
	for name, data := range cases {
		var m KeyMaterial
		err := json.Unmarshal([]byte(data), &m)
		assert.True(t, errors.Is(err, crypt.ErrInvalidKeyMaterial), "%s: expected ErrInvalidKeyMaterial, got %v", name, err)
	}
}
