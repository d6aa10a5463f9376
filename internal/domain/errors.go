package domain

import "errors"

var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrAlertAlreadyFired = errors.New("alert already triggered")
)
