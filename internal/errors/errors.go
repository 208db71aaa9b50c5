package errors

import "errors"

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrInvalidName      = errors.New("task name must not be empty")
	ErrInvalidType      = errors.New("unknown transfer type")
	ErrInvalidStatus    = errors.New("unknown task status")
	ErrStatusRegression = errors.New("task status cannot move backwards")
	ErrTypeChange       = errors.New("task type is immutable")
	ErrTerminalTask     = errors.New("task already finished")
	ErrShuttingDown     = errors.New("service is shutting down")
	ErrQueueFull        = errors.New("transfer queue is full")
	ErrFileTooLarge     = errors.New("file exceeds maximum allowed size")
	ErrTransferActive   = errors.New("transfer with this name is already running")
)
