package securestore

import (
	"errors"
	"fmt"
)

// ErrMetadataUnavailable means no metadata store is configured. Store still
// uploads (the result stays MetadataPending); Recover degrades to "no
// recovery possible".
var ErrMetadataUnavailable = errors.New("securestore: metadata store unavailable")

// Stage names the pipeline step a failure belongs to.
type Stage string

const (
	StageEncode   Stage = "encode"
	StageEncrypt  Stage = "encrypt"
	StageUpload   Stage = "upload"
	StageAppend   Stage = "append"
	StageLookup   Stage = "lookup"
	StageDownload Stage = "download"
	StageDecrypt  Stage = "decrypt"
	StageDecode   Stage = "decode"
)

// StageError wraps a component failure with the pipeline stage it happened
// in. The underlying error passes through unchanged for errors.Is/As.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("securestore: %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
