package http

import (
	"errors"
	"net/http"

	"devlog-server/internal/domain"
	"devlog-server/pkg/taskmanager"

	"github.com/gin-gonic/gin"
)

// ErrorDetail - тело ошибки API.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse - стандартный ответ об ошибке: {"error": {"code", "message"}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Порядок важен: первое совпадение по errors.Is.
var errorMappings = []errorMapping{
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{domain.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{domain.ErrCheckpointMissing, http.StatusNotFound, "checkpoint_missing"},
	{taskmanager.ErrTaskNotFound, http.StatusNotFound, "task_not_found"},
	{domain.ErrGenerationInProgress, http.StatusConflict, "generation_in_progress"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrDraftLocked, http.StatusConflict, "draft_locked"},
	{domain.ErrReviewLocked, http.StatusConflict, "review_locked"},
	{domain.ErrSessionClosed, http.StatusConflict, "session_closed"},
	{domain.ErrNotEligible, http.StatusUnprocessableEntity, "not_eligible"},
	{domain.ErrEmptyTitle, http.StatusUnprocessableEntity, "empty_title"},
	{domain.ErrMissingKeyword, http.StatusUnprocessableEntity, "missing_keyword"},
	{domain.ErrConfirmationRequired, http.StatusPreconditionRequired, "confirmation_required"},
	{domain.ErrGenerationTimeout, http.StatusGatewayTimeout, "generation_timeout"},
	{domain.ErrGenerationTransport, http.StatusBadGateway, "generation_unavailable"},
	{domain.ErrMalformedResult, http.StatusBadGateway, "malformed_result"},
	{domain.ErrCommitTransport, http.StatusBadGateway, "commit_failed"},
	{domain.ErrBackendUnavailable, http.StatusBadGateway, "backend_unavailable"},
	{taskmanager.ErrTooManyTasks, http.StatusServiceUnavailable, "too_many_tasks"},
	{taskmanager.ErrStopped, http.StatusServiceUnavailable, "shutting_down"},
}

// statusFor сопоставляет ошибку HTTP статусу и коду.
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// respondError пишет ошибку в ответ. Внутренние ошибки не раскрываются клиенту.
func respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		message = "internal server error"
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}
