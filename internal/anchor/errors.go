package anchor

import (
	"errors"
	"fmt"
)

var (
	// ErrAnchorFailed wraps every submission or confirmation failure.
	ErrAnchorFailed = errors.New("anchor failed")

	// ErrHashMismatch means the node answered for a different tx than
	// the one signed.
	ErrHashMismatch = errors.New("tx hash mismatch")

	// ErrNoProgram is returned by ledger reads in mock mode.
	ErrNoProgram = errors.New("ledger program not configured")
)

// Stage names a step of the anchor state machine.
type Stage string

const (
	StageBuild   Stage = "build"
	StageSign    Stage = "sign"
	StageSubmit  Stage = "submit"
	StageConfirm Stage = "confirm"
	StageExecute Stage = "execute"
)

// Error reports the stage an anchor attempt failed in. TxHash is set
// once the transaction was signed; from submit onwards it may exist on
// the ledger even though the call failed.
type Error struct {
	Stage  Stage
	TxHash string
	Err    error
}

func (e *Error) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("anchor %s failed (tx %s): %v", e.Stage, e.TxHash, e.Err)
	}

	return fmt.Sprintf("anchor %s failed: %v", e.Stage, e.Err)
}

// Unwrap exposes both ErrAnchorFailed and the underlying reason.
func (e *Error) Unwrap() []error {
	return []error{ErrAnchorFailed, e.Err}
}
