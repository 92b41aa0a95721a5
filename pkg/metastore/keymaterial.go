package metastore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/cyra-app/securestore/pkg/crypt"
)

// KeyMaterial is the triple required to decrypt one specific ciphertext. It
// is stored as the encrypted_aes_key JSON column, shape
// {"aesKey": b64, "iv": b64, "tag": b64}, and validated on every parse.
type KeyMaterial struct {
	AESKey []byte
	IV     []byte
	Tag    []byte
}

type keyMaterialJSON struct {
	AESKey string `json:"aesKey"`
	IV     string `json:"iv"`
	Tag    string `json:"tag"`
}

// Validate checks the fixed key, IV and tag lengths.
func (m KeyMaterial) Validate() error {
	return crypt.ValidateKeyMaterial(m.AESKey, m.IV, m.Tag)
}

// MarshalJSON encodes the three fields as base64 strings.
func (m KeyMaterial) MarshalJSON() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(keyMaterialJSON{
		AESKey: base64.StdEncoding.EncodeToString(m.AESKey),
		IV:     base64.StdEncoding.EncodeToString(m.IV),
		Tag:    base64.StdEncoding.EncodeToString(m.Tag),
	})
}

// UnmarshalJSON decodes and validates the stored shape. Anything other than
// exactly the three expected fields with correct lengths is rejected as
// invalid key material.
func (m *KeyMaterial) UnmarshalJSON(data []byte) error {
	var raw keyMaterialJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", crypt.ErrInvalidKeyMaterial, err)
	}

	key, err := base64.StdEncoding.DecodeString(raw.AESKey)
	if err != nil {
		return fmt.Errorf("%w: aesKey is not base64: %v", crypt.ErrInvalidKeyMaterial, err)
	}
	iv, err := base64.StdEncoding.DecodeString(raw.IV)
	if err != nil {
		return fmt.Errorf("%w: iv is not base64: %v", crypt.ErrInvalidKeyMaterial, err)
	}
	tag, err := base64.StdEncoding.DecodeString(raw.Tag)
	if err != nil {
		return fmt.Errorf("%w: tag is not base64: %v", crypt.ErrInvalidKeyMaterial, err)
	}

	parsed := KeyMaterial{AESKey: key, IV: iv, Tag: tag}
	if err := parsed.Validate(); err != nil {
		return err
	}

	*m = parsed
	return nil
}
