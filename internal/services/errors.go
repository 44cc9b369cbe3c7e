// Package services defines the business logic of the booking webhook
// pipeline: idempotent intake, the booking ledger, referral attribution and
// payouts. This file centralizes service-level error values so that they can
// be consistently returned by service methods and checked by callers.
//
// Translation into HTTP status codes and envelopes happens in the handler
// layer.
package services

import "errors"

// Webhook intake errors.
var (
	// ErrDuplicateEvent reports that (provider, payload hash) was already
	// recorded. The pipeline answers it as a duplicate, not a failure.
	ErrDuplicateEvent = errors.New("duplicate webhook event")

	// ErrEventNotFound indicates that a stored webhook event does not exist.
	ErrEventNotFound = errors.New("webhook event not found")

	// ErrAlreadyProcessed is returned when replaying an event whose terminal
	// handling already completed.
	ErrAlreadyProcessed = errors.New("webhook event already processed")
)

// Booking ledger errors.
var (
	// ErrBookingNotFound indicates that the requested booking does not exist.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrInvalidStatus is returned for a status outside created, confirmed,
	// paid and canceled.
	ErrInvalidStatus = errors.New("invalid booking status")

	// ErrInvalidTransition is returned when a booking cannot move from its
	// current status to the requested one.
	ErrInvalidTransition = errors.New("invalid booking status transition")
)

// Referral program errors.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrCodeNotFound = errors.New("referral code not found")

	// ErrSelfReferral is returned when a user arrives through their own code.
	ErrSelfReferral = errors.New("self referral is not allowed")

	// ErrInvalidEventType is returned for a referral event type outside the
	// known set.
	ErrInvalidEventType = errors.New("invalid referral event type")
)
