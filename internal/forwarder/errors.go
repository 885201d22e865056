package forwarder

import (
	"errors"
	"fmt"
)

// ErrSizeExceeded is returned when a stored message is larger than the
// configured limit.
var ErrSizeExceeded = errors.New("email size exceeds limit")

// Stage names a step of the forwarding pipeline.
type Stage string

const (
	StageValidate        Stage = "validate"
	StageRetrieve        Stage = "retrieve"
	StageSizeCheck       Stage = "size_check"
	StageResolveIdentity Stage = "resolve_identity"
	StageParse           Stage = "parse"
	StageRewrite         Stage = "rewrite"
	StageTransmit        Stage = "transmit"
)

// StageError records the pipeline step that failed and the storage key of
// the message being forwarded.
type StageError struct {
	Stage Stage
	Key   string
	Err   error
}

func (e *StageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Key, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, key string, err error) error {
	return &StageError{Stage: stage, Key: key, Err: err}
}
