// Package payload serializes a user's planning data into the canonical byte
// form hashed and encrypted by the rest of the pipeline.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedPayload marks bytes that are not valid payload JSON or that
// lack a required field.
var ErrMalformedPayload = errors.New("payload: malformed payload")

// SecurePayload is the plaintext logical unit: a structured record plus a
// free-text annotation. Immutable once constructed.
//
// The wire names userData and aiPrompt are part of the encrypted document
// format and must not change.
type SecurePayload struct {
	Record     map[string]interface{} `json:"userData"`
	Annotation string                 `json:"aiPrompt"`
}

// Encode produces canonical UTF-8 JSON with stable field ordering, so the
// downstream content addressing is deterministic for equal payloads.
// encoding/json sorts map keys, which gives the stable ordering for Record.
func Encode(p SecurePayload) ([]byte, error) {
	if p.Record == nil {
		return nil, fmt.Errorf("%w: record is nil", ErrMalformedPayload)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("error encoding payload: %w", err)
	}
	return data, nil
}

// Decode is the exact inverse of Encode.
func Decode(data []byte) (SecurePayload, error) {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return SecurePayload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	recordRaw, ok := raw["userData"]
	if !ok {
		return SecurePayload{}, fmt.Errorf("%w: missing userData", ErrMalformedPayload)
	}
	annotationRaw, ok := raw["aiPrompt"]
	if !ok {
		return SecurePayload{}, fmt.Errorf("%w: missing aiPrompt", ErrMalformedPayload)
	}

	var p SecurePayload
	recDec := json.NewDecoder(bytes.NewReader(recordRaw))
	recDec.UseNumber()
	if err := recDec.Decode(&p.Record); err != nil {
		return SecurePayload{}, fmt.Errorf("%w: userData is not an object: %v", ErrMalformedPayload, err)
	}
	if p.Record == nil {
		return SecurePayload{}, fmt.Errorf("%w: userData is null", ErrMalformedPayload)
	}
	if err := json.Unmarshal(annotationRaw, &p.Annotation); err != nil {
		return SecurePayload{}, fmt.Errorf("%w: aiPrompt is not a string: %v", ErrMalformedPayload, err)
	}

	return p, nil
}
