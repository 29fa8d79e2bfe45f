package api

import "errors"

// Sentinel errors for API operations.
var (
	ErrProgramNotFound    = errors.New("program not found")
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrWeekNotFound       = errors.New("week not found")
	ErrInvalidProgram     = errors.New("invalid program template")
	ErrUnauthorized       = errors.New("unauthorized")
)
