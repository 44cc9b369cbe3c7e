// Package handlers defines HTTP-layer error codes used by the reporting API.
//
// Codes are lowercase snake_case and stable; clients branch on them instead of
// parsing messages. Generic codes mirror HTTP status semantics, domain codes
// name the operation that failed.
//
// Example response:
//   {
//     "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//     "code": "self_referral",
//     "message": "self referral is not allowed"
//   }

package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeListFailed       = "list_failed"
	ErrCodeReplayFailed     = "replay_failed"
	ErrCodeSelfReferral     = "self_referral"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// Webhook envelope error strings.
const (
	WebhookErrUnauthorized = "unauthorized"
	WebhookErrInvalidJSON  = "invalid JSON"
	WebhookErrTooLarge     = "payload too large"
	WebhookErrInternal     = "internal error"
)
