package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"devlog-server/internal/delivery/http/middleware"
	"devlog-server/internal/domain"
	"devlog-server/internal/filters"
	"devlog-server/internal/navigation"
	"devlog-server/internal/review"
	"devlog-server/internal/workflow"
	"devlog-server/pkg/taskmanager"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler - HTTP API сессий создания контента.
type Handler struct {
	sessions   *workflow.Manager
	tasks      *taskmanager.TaskManager
	filters    filters.Store
	navigation *navigation.Bus
	logger     *zap.Logger
}

// NewHandler создает обработчик API.
func NewHandler(sessions *workflow.Manager, tasks *taskmanager.TaskManager, store filters.Store, nav *navigation.Bus, logger *zap.Logger) *Handler {
	return &Handler{
		sessions:   sessions,
		tasks:      tasks,
		filters:    store,
		navigation: nav,
		logger:     logger.Named("HTTPHandler"),
	}
}

// RegisterRoutes регистрирует маршруты API в группе /api.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api", middleware.RequireUser())

	sessions := api.Group("/sessions")
	{
		sessions.POST("/diary", h.startDiary)
		sessions.POST("/activity", h.startActivity)
		sessions.GET("/current", h.currentSession)
		sessions.GET("/:id", h.getSession)
		sessions.DELETE("/:id", h.abandonSession)

		sessions.PUT("/:id/answers/:index", h.setAnswer)
		sessions.PUT("/:id/text", h.setText)
		sessions.POST("/:id/images", h.addImage)
		sessions.DELETE("/:id/images", h.removeImage)

		sessions.POST("/:id/generate", h.generate)
		sessions.PATCH("/:id/review/title", h.editTitle)
		sessions.POST("/:id/review/keep/:activityId", h.toggleKeep)
		sessions.PATCH("/:id/review/candidates/:index", h.editCandidate)
		sessions.POST("/:id/review/candidates/:index/toggle", h.toggleCandidate)
		sessions.POST("/:id/commit", h.commit)

		sessions.POST("/:id/dismiss", h.dismiss)
		sessions.POST("/:id/cancel", h.cancel)
		sessions.POST("/:id/resume", h.resume)
		sessions.GET("/:id/events", h.events)
	}

	api.GET("/checkpoints", h.listCheckpoints)
	api.GET("/tasks/:id", h.getTask)

	api.GET("/filters/activity", h.getFilters)
	api.PUT("/filters/activity", h.putFilters)
	api.DELETE("/filters/activity", h.resetFilters)

	api.GET("/navigation", h.currentArea)
	api.POST("/navigation", h.navigate)
}

// --- helpers ---

func userID(c *gin.Context) string {
	id, _ := middleware.GetUserID(c)
	return id
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", domain.ErrInvalidInput, name)
	}
	return id, nil
}

func parseIntParam(c *gin.Context, name string) (int64, error) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", domain.ErrInvalidInput, name)
	}
	return v, nil
}

func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// session находит сессию из пути запроса; при ошибке ответ уже записан.
func (h *Handler) session(c *gin.Context) (*workflow.Session, bool) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	s, err := h.sessions.Get(userID(c), id)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return s, true
}

// confirmed читает флаг подтверждения из ?confirm=true или тела {"confirm": true}.
func confirmed(c *gin.Context) bool {
	if c.Query("confirm") == "true" {
		return true
	}
	if c.Request.ContentLength <= 0 {
		return false
	}
	var body struct {
		Confirm bool `json:"confirm"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		return false
	}
	return body.Confirm
}

// respond пишет снимок сессии или ошибку: respond(c)(s.Dismiss()).
func respond(c *gin.Context) func(workflow.Snapshot, error) {
	return func(snap workflow.Snapshot, err error) {
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

// AcceptedResponse - ответ на асинхронную операцию.
type AcceptedResponse struct {
	TaskID  uuid.UUID         `json:"taskId"`
	Session workflow.Snapshot `json:"session"`
}

// schedule выполняет попытку в фоне. Результат приходит по WebSocket
// (session_update, task_update) или через GET /api/tasks/:id.
func (h *Handler) schedule(c *gin.Context, s *workflow.Session, attempt *workflow.Attempt) {
	spec := taskmanager.Spec{Kind: attempt.Operation(), OwnerID: s.UserID(), SessionID: s.ID()}
	taskID, err := h.tasks.Submit(c.Request.Context(), spec, func(ctx context.Context) (interface{}, error) {
		snap, err := attempt.Run(ctx)
		if errors.Is(err, domain.ErrStaleResponse) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return snap, nil
	})
	if err != nil {
		h.logger.Warn("Failed to schedule attempt", zap.Stringer("sessionID", s.ID()),
			zap.String("operation", attempt.Operation()), zap.Error(err))
		_, _ = attempt.Abort(context.WithoutCancel(c.Request.Context()), err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, AcceptedResponse{TaskID: taskID, Session: s.Snapshot()})
}

// --- sessions ---

type startDiaryRequest struct {
	ProjectID int64    `json:"projectId" binding:"required"`
	Questions []string `json:"questions" binding:"required,min=1"`
}

func (h *Handler) startDiary(c *gin.Context) {
	var req startDiaryRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	s, err := h.sessions.StartDiary(c.Request.Context(), userID(c), req.ProjectID, req.Questions)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.Snapshot())
}

type startActivityRequest struct {
	ProjectID int64 `json:"projectId" binding:"required"`
}

func (h *Handler) startActivity(c *gin.Context) {
	var req startActivityRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	s, err := h.sessions.StartActivity(c.Request.Context(), userID(c), req.ProjectID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.Snapshot())
}

func (h *Handler) currentSession(c *gin.Context) {
	s, err := h.sessions.Current(userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

func (h *Handler) getSession(c *gin.Context) {
	if s, ok := h.session(c); ok {
		c.JSON(http.StatusOK, s.Snapshot())
	}
}

func (h *Handler) abandonSession(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.sessions.Abandon(userID(c), id, confirmed(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type answerRequest struct {
	Answer string `json:"answer"`
}

func (h *Handler) setAnswer(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	index, err := parseIntParam(c, "index")
	if err != nil {
		respondError(c, err)
		return
	}
	var req answerRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	respond(c)(s.SetAnswer(int(index), req.Answer))
}

type textRequest struct {
	Text string `json:"text"`
}

func (h *Handler) setText(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req textRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	respond(c)(s.SetText(req.Text))
}

type imageRequest struct {
	URL string `json:"url" binding:"required"`
}

func (h *Handler) addImage(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req imageRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	respond(c)(s.AddImage(req.URL))
}

func (h *Handler) removeImage(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	respond(c)(s.RemoveImage(c.Query("url")))
}

func (h *Handler) generate(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	attempt, err := s.Submit()
	if err != nil {
		respondError(c, err)
		return
	}
	h.schedule(c, s, attempt)
}

func (h *Handler) commit(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	attempt, err := s.Commit()
	if err != nil {
		respondError(c, err)
		return
	}
	h.schedule(c, s, attempt)
}

type titleRequest struct {
	Title string `json:"title"`
}

func (h *Handler) editTitle(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req titleRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	respond(c)(s.EditTitle(req.Title))
}

func (h *Handler) toggleKeep(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	activityID, err := parseIntParam(c, "activityId")
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c)(s.ToggleKeep(activityID))
}

// candidateRequest - частичная правка кандидата и, опционально, выбор ключевого слова.
type candidateRequest struct {
	Title        *string      `json:"title"`
	Content      *string      `json:"content"`
	StartDate    *domain.Date `json:"startDate"`
	EndDate      *domain.Date `json:"endDate"`
	ProjectTitle *string      `json:"projectTitle"`
	KeywordID    *int64       `json:"keywordId"`
}

func (r candidateRequest) hasPatch() bool {
	return r.Title != nil || r.Content != nil || r.StartDate != nil || r.EndDate != nil || r.ProjectTitle != nil
}

func reviewPatch(r candidateRequest) review.CandidatePatch {
	return review.CandidatePatch{
		Title:        r.Title,
		Content:      r.Content,
		StartDate:    r.StartDate,
		EndDate:      r.EndDate,
		ProjectTitle: r.ProjectTitle,
	}
}

func (h *Handler) editCandidate(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	index, err := parseIntParam(c, "index")
	if err != nil {
		respondError(c, err)
		return
	}
	var req candidateRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	if !req.hasPatch() && req.KeywordID == nil {
		respondError(c, fmt.Errorf("%w: empty patch", domain.ErrInvalidInput))
		return
	}

	var snap workflow.Snapshot
	if req.hasPatch() {
		snap, err = s.EditCandidate(int(index), reviewPatch(req))
		if err != nil {
			respondError(c, err)
			return
		}
	}
	if req.KeywordID != nil {
		snap, err = s.SelectKeyword(int(index), *req.KeywordID)
	}
	respond(c)(snap, err)
}

func (h *Handler) toggleCandidate(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	index, err := parseIntParam(c, "index")
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c)(s.ToggleCandidate(int(index)))
}

func (h *Handler) dismiss(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	respond(c)(s.Dismiss())
}

func (h *Handler) cancel(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	respond(c)(s.Cancel(confirmed(c)))
}

func (h *Handler) resume(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	s, err := h.sessions.Resume(c.Request.Context(), userID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

func (h *Handler) events(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	events, err := h.sessions.Events(c.Request.Context(), userID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) listCheckpoints(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"checkpoints": h.sessions.Checkpoints(c.Request.Context(), userID(c))})
}

func (h *Handler) getTask(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	task, err := h.tasks.GetTask(id)
	if err == nil && task.OwnerID != userID(c) {
		err = fmt.Errorf("%w: %s", taskmanager.ErrTaskNotFound, id)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// --- filters & navigation ---

func (h *Handler) getFilters(c *gin.Context) {
	criteria, err := h.filters.Get(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, criteria)
}

func (h *Handler) putFilters(c *gin.Context) {
	var criteria filters.Criteria
	if err := bindJSON(c, &criteria); err != nil {
		respondError(c, err)
		return
	}
	if err := h.filters.Put(c.Request.Context(), userID(c), criteria); err != nil {
		respondError(c, err)
		return
	}
	h.getFilters(c)
}

func (h *Handler) resetFilters(c *gin.Context) {
	if err := h.filters.Reset(c.Request.Context(), userID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type navigationRequest struct {
	Path string `json:"path" binding:"required"`
}

func (h *Handler) navigate(c *gin.Context) {
	var req navigationRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	area := h.navigation.Navigate(c.Request.Context(), userID(c), req.Path)
	c.JSON(http.StatusOK, gin.H{"area": area})
}

// currentArea отдает последнюю область, о которой сообщил клиент.
// До первого POST /navigation (или после отключения всех вкладок) - unknown.
func (h *Handler) currentArea(c *gin.Context) {
	area, ok := h.navigation.Current(userID(c))
	if !ok {
		area = domain.AreaUnknown
	}
	c.JSON(http.StatusOK, gin.H{"area": area})
}
