package domain

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrInvalidCategory   = errors.New("invalid garment category")
	ErrInvalidOwnerToken = errors.New("invalid owner token")
	ErrInvalidImage      = errors.New("invalid image")
	ErrImageTooLarge     = errors.New("image too large")
	ErrTransformFailed   = errors.New("transform failed")
)
