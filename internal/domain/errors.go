package domain

import "errors"

// Sentinel errors for the application. Expected moderation outcomes
// (self-report, duplicate report) are typed results, not panics.
var (
	ErrBanned            = errors.New("device is banned")
	ErrUnauthorized      = errors.New("unauthorized access")
	ErrSelfAction        = errors.New("cannot act on own message")
	ErrDuplicateReport   = errors.New("report already filed")
	ErrNotFound          = errors.New("resource not found")
	ErrEmptyText         = errors.New("text is empty")
	ErrInvalidTransition = errors.New("invalid report status transition")
	ErrInvalidInput      = errors.New("invalid input")
)
