package errors

import "errors"

var (
	ErrEngineTimeout        = errors.New("engine evaluation timed out")
	ErrEngineProcess        = errors.New("engine process error")
	ErrEngineBusy           = errors.New("engine has an outstanding job")
	ErrEngineNotRunning     = errors.New("engine process is not running")
	ErrInvalidGameRecord    = errors.New("game record has no usable move data")
	ErrNoTrackedParticipant = errors.New("no tracked participant in game")
	ErrGameNotFound         = errors.New("game not found")
)
