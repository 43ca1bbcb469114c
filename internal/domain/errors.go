package domain

import "errors"

// Стандартные ошибки workflow
var (
	// Validation
	ErrNotEligible  = errors.New("draft does not meet submission threshold")
	ErrInvalidInput = errors.New("invalid input data")

	// Generation
	ErrGenerationInProgress = errors.New("generation is already in progress for this session")
	ErrGenerationTimeout    = errors.New("generation timed out")
	ErrGenerationTransport  = errors.New("generation service unavailable")
	ErrMalformedResult      = errors.New("generation service returned a malformed result")

	// Review
	ErrEmptyTitle           = errors.New("title must not be empty")
	ErrMissingKeyword       = errors.New("activity candidate has no keyword to resolve")
	ErrReviewLocked         = errors.New("review is locked while commit is in progress")
	ErrConfirmationRequired = errors.New("unsaved edits would be lost, confirmation required")

	// Commit
	ErrCommitTransport = errors.New("commit request failed")

	// Запросы к бэкенду вне генерации и коммита (существующие активности)
	ErrBackendUnavailable = errors.New("backend service unavailable")

	// Session & state machine
	ErrStaleResponse     = errors.New("response belongs to an abandoned or superseded session")
	ErrInvalidTransition = errors.New("transition not allowed from current stage")
	ErrDraftLocked       = errors.New("draft can only be edited while drafting")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionClosed     = errors.New("session is closed")
	ErrCheckpointMissing = errors.New("no checkpoint stored for session")
)
