package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrNotConfigured means the reasoning service is missing required
	// configuration. Never retryable.
	ErrNotConfigured = goerr.New("ai client not configured")

	// ErrNoCode means the reasoning service returned no extractable code
	// block for a generation attempt.
	ErrNoCode = goerr.New("no code produced")

	// ErrConversationNotFound is returned by repositories when a conversation
	// id does not exist for the requesting owner.
	ErrConversationNotFound = goerr.New("conversation not found")
)
