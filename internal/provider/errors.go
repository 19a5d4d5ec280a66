package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/m3rciful/receiverbot/core/netutil"
)

// Class is the closed failure taxonomy the onboarding flow branches on.
type Class string

const (
	ClassUnknown      Class = "unknown"
	ClassInvalidInput Class = "invalid_input"
	ClassRateLimited  Class = "rate_limited"
	ClassBanned       Class = "banned"
	ClassRevoked      Class = "revoked"
	ClassFrozen       Class = "frozen"
	ClassTransient    Class = "transient"
)

// Terminal reports whether the class ends the flow.
func (c Class) Terminal() bool {
	return c != ClassTransient && c != ClassInvalidInput
}

// Error is a provider failure translated into the taxonomy.
type Error struct {
	Class Class
	// Code is the provider error type, e.g. PHONE_NUMBER_BANNED.
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider %s (%s): %v", e.Class, e.Code, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrCode reports the code used in handler log summaries.
func (e *Error) ErrCode() string {
	if e.Code != "" {
		return e.Code
	}
	return strings.ToUpper(string(e.Class))
}

// Wrap attaches class and code to err. A nil err stays nil.
func Wrap(class Class, code string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Code: code, Err: err}
}

var codeClasses = map[string]Class{
	"PHONE_NUMBER_INVALID":    ClassInvalidInput,
	"PHONE_NUMBER_UNOCCUPIED": ClassInvalidInput,
	"PHONE_CODE_INVALID":      ClassInvalidInput,
	"PHONE_CODE_EMPTY":        ClassInvalidInput,
	"PASSWORD_HASH_INVALID":   ClassInvalidInput,

	"PHONE_NUMBER_FLOOD":   ClassRateLimited,
	"PHONE_PASSWORD_FLOOD": ClassRateLimited,
	"FLOOD_WAIT":           ClassRateLimited,
	"FLOOD_PREMIUM_WAIT":   ClassRateLimited,

	"PHONE_NUMBER_BANNED":  ClassBanned,
	"USER_DEACTIVATED":     ClassBanned,
	"USER_DEACTIVATED_BAN": ClassBanned,

	"PHONE_CODE_EXPIRED":    ClassRevoked,
	"SESSION_REVOKED":       ClassRevoked,
	"SESSION_EXPIRED":       ClassRevoked,
	"AUTH_KEY_UNREGISTERED": ClassRevoked,
	"AUTH_KEY_DUPLICATED":   ClassRevoked,
	"AUTH_RESTART":          ClassRevoked,
}

// ClassifyCode maps a provider error type to its class. Account-freeze
// errors share the FROZEN_ prefix.
func ClassifyCode(code string) Class {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ClassUnknown
	}
	if c, ok := codeClasses[code]; ok {
		return c
	}
	if strings.HasPrefix(code, "FROZEN_") {
		return ClassFrozen
	}
	if strings.HasPrefix(code, "FLOOD_WAIT_") {
		return ClassRateLimited
	}
	return ClassUnknown
}

// ClassOf returns the taxonomy class of err. Untranslated network faults are
// reported as transient.
func ClassOf(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ClassTransient
	}
	if netutil.ShouldRetry(err) {
		return ClassTransient
	}
	return ClassUnknown
}
