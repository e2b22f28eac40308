package config

import (
	"errors"
	"fmt"
)

// Errors returned by configuration operations.
var (
	// ErrFileNotFound indicates an explicitly named config file doesn't exist.
	ErrFileNotFound = errors.New("config file not found")

	// ErrFileExists indicates WriteDefault would overwrite an existing file.
	ErrFileExists = errors.New("config file already exists")
)

// ParseError represents an error while parsing a configuration file.
type ParseError struct {
	// Path is the file path that failed to parse.
	Path string
	// Err is the underlying parse error.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError describes a setting with an unusable value.
type ValidationError struct {
	// Key is the dotted setting key.
	Key string
	// Message describes the problem.
	Message string
	// Value is the rejected value.
	Value any
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (value: %v)", e.Key, e.Message, e.Value)
}
