package main

import "errors"

var (
	ErrInvalidFileType = errors.New("invalid file type")
	ErrFileTooLarge    = errors.New("file too large")
	ErrDecodeFailure   = errors.New("failed to decode image")
	ErrEncodeFailure   = errors.New("failed to encode image")
	ErrUploadRejected  = errors.New("upload rejected")

	ErrNoSession      = errors.New("no open session")
	ErrSaveInProgress = errors.New("save already in progress")
	ErrDisabled       = errors.New("widget is disabled")
)
