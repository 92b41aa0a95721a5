package payload

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := SecurePayload{
		Record: map[string]interface{}{
			"mood": "calm",
			"tasks": []interface{}{
				map[string]interface{}{"title": "review spec", "category": "work"},
			},
		},
		Annotation: "plan a calm day",
	}

	data, err := Encode(p)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)
}

func TestEncodeIsDeterministic(t *testing.T) {
	p := SecurePayload{
		Record: map[string]interface{}{
			"zeta":  "last",
			"alpha": "first",
			"mid":   "middle",
		},
		Annotation: "ordering",
	}

	first, err := Encode(p)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := Encode(p)
		require.NoError(t, err)
		assert.Equal(t, first, again, "encode must be byte-stable for equal payloads")
	}
}

func TestDecodeEncodeDecodeIsStable(t *testing.T) {
	// A payload that has been through one decode (numbers as json.Number)
	// must re-encode to the identical bytes.
	original := []byte(`{"aiPrompt":"p","userData":{"cycleDay":14,"tasks":[]}}`)

	decoded, err := Decode(original)
	require.NoError(t, err)

	reencoded, err := Encode(decoded)
	require.NoError(t, err)

	decodedAgain, err := Decode(reencoded)
	require.NoError(t, err)
	assert.Equal(t, decoded, decodedAgain)
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string][]byte{
		"not json":        []byte("not json at all"),
		"empty":           nil,
		"missing record":  []byte(`{"aiPrompt":"p"}`),
		"missing prompt":  []byte(`{"userData":{}}`),
		"null record":     []byte(`{"userData":null,"aiPrompt":"p"}`),
		"record not map":  []byte(`{"userData":[1,2],"aiPrompt":"p"}`),
		"prompt not text": []byte(`{"userData":{},"aiPrompt":7}`),
	}

	for name, data := range cases {
		_, err := Decode(data)
		assert.True(t, errors.Is(err, ErrMalformedPayload), "%s: expected ErrMalformedPayload, got %v", name, err)
	}
}

func TestEncodeNilRecord(t *testing.T) {
	_, err := Encode(SecurePayload{Annotation: "no record"})
	assert.True(t, errors.Is(err, ErrMalformedPayload))
}
