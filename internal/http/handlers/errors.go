// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants mapped to HTTP
// responses via the `fail()` helper. Content-moderation rejections use
// their own category token (moderation.Category) as the code directly
// instead of a generic constant here, per the external interface's
// contract: the client sees a reason token but never the exact rule.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
