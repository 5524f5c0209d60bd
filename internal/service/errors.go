package service

import "errors"

var (
	// Validation errors: nothing has been stored when these are returned.
	ErrEmptyContent    = errors.New("message must have text or image")
	ErrInvalidReceiver = errors.New("invalid receiver")
	ErrInvalidImage    = errors.New("invalid image")

	ErrMedia   = errors.New("media upload failed")
	ErrPersist = errors.New("failed to store message")
)
