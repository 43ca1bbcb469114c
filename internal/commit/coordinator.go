package commit

import (
	"context"
	"errors"
	"fmt"

	"devlog-server/internal/domain"
	"devlog-server/internal/metrics"
	"devlog-server/internal/review"

	"go.uber.org/zap"
)

// Persister - API сохранения контента.
type Persister interface {
	CreateDiary(ctx context.Context, projectID int64, sub domain.DiarySubmission) (int64, error)
	SaveActivities(ctx context.Context, projectID int64, sub domain.ActivitySubmission) error
}

// Invalidator сбрасывает кэшированное состояние области после успешного сохранения.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string, area domain.Area) error
}

// Result - итог успешного коммита.
type Result struct {
	Flow     domain.Flow `json:"flow"`
	DiaryID  int64       `json:"diaryId,omitempty"`
	Redirect string      `json:"redirect"`
}

// Coordinator собирает итоговый payload и отправляет его одним запросом.
type Coordinator struct {
	persister   Persister
	invalidator Invalidator
	policy      KeywordPolicy
	logger      *zap.Logger
}

// NewCoordinator создает координатор. invalidator может быть nil.
func NewCoordinator(persister Persister, invalidator Invalidator, policy KeywordPolicy, logger *zap.Logger) *Coordinator {
	if policy == nil {
		policy = ChosenOrFirst{}
	}
	return &Coordinator{
		persister:   persister,
		invalidator: invalidator,
		policy:      policy,
		logger:      logger.Named("CommitCoordinator"),
	}
}

// PrepareDiary собирает payload дневника из черновика и проверенного заголовка.
func (c *Coordinator) PrepareDiary(draft domain.DraftInput, rv *review.Session) (domain.DiarySubmission, error) {
	if err := rv.CheckReady(); err != nil {
		return domain.DiarySubmission{}, err
	}
	return domain.DiarySubmission{
		Title:   rv.Title(),
		Answers: draft.Answers(),
		Images:  draft.ImageURLs(),
	}, nil
}

// PrepareActivities собирает payload активностей: сохраняемые id по возрастанию
// и новые активности в порядке кандидатов.
func (c *Coordinator) PrepareActivities(rv *review.Session) (domain.ActivitySubmission, error) {
	if err := rv.CheckReady(); err != nil {
		return domain.ActivitySubmission{}, err
	}
	selected := rv.Selected()
	sub := domain.ActivitySubmission{
		SavedActivities: rv.KeptIDs(),
		NewActivities:   make([]domain.NewActivity, 0, len(selected)),
	}
	for _, sel := range selected {
		keywordID, err := c.policy.Resolve(sel)
		if err != nil {
			return domain.ActivitySubmission{}, err
		}
		cand := sel.Candidate
		sub.NewActivities = append(sub.NewActivities, domain.NewActivity{
			Title:        cand.Title,
			Content:      cand.Content,
			StartDate:    cand.StartDate,
			EndDate:      cand.EndDate,
			ProjectTitle: cand.ProjectTitle,
			Keyword:      keywordID,
		})
	}
	return sub, nil
}

// SubmitDiary отправляет дневник. Повторов нет: ошибка возвращается как есть.
func (c *Coordinator) SubmitDiary(ctx context.Context, target domain.CommitTarget, sub domain.DiarySubmission) (Result, error) {
	log := c.logger.With(zap.String("userID", target.UserID), zap.Int64("projectID", target.ProjectID))

	id, err := c.persister.CreateDiary(ctx, target.ProjectID, sub)
	if err != nil {
		metrics.IncCommit(string(domain.FlowDiary), metrics.StatusError)
		log.Error("Diary commit failed", zap.Error(err))
		return Result{}, wrapTransport(err)
	}
	metrics.IncCommit(string(domain.FlowDiary), metrics.StatusSuccess)
	log.Info("Diary committed", zap.Int64("diaryID", id))

	c.invalidate(ctx, target.UserID, domain.FlowDiary.AffectedArea(), log)
	return Result{Flow: domain.FlowDiary, DiaryID: id, Redirect: projectPath(target.ProjectID)}, nil
}

// SubmitActivities отправляет набор активностей.
func (c *Coordinator) SubmitActivities(ctx context.Context, target domain.CommitTarget, sub domain.ActivitySubmission) (Result, error) {
	log := c.logger.With(zap.String("userID", target.UserID), zap.Int64("projectID", target.ProjectID),
		zap.Int("kept", len(sub.SavedActivities)), zap.Int("new", len(sub.NewActivities)))

	if err := c.persister.SaveActivities(ctx, target.ProjectID, sub); err != nil {
		metrics.IncCommit(string(domain.FlowActivity), metrics.StatusError)
		log.Error("Activity commit failed", zap.Error(err))
		return Result{}, wrapTransport(err)
	}
	metrics.IncCommit(string(domain.FlowActivity), metrics.StatusSuccess)
	log.Info("Activities committed")

	c.invalidate(ctx, target.UserID, domain.FlowActivity.AffectedArea(), log)
	return Result{Flow: domain.FlowActivity, Redirect: projectPath(target.ProjectID)}, nil
}

// CommitDiary = PrepareDiary + SubmitDiary.
func (c *Coordinator) CommitDiary(ctx context.Context, target domain.CommitTarget, draft domain.DraftInput, rv *review.Session) (Result, error) {
	sub, err := c.PrepareDiary(draft, rv)
	if err != nil {
		return Result{}, err
	}
	return c.SubmitDiary(ctx, target, sub)
}

// CommitActivities = PrepareActivities + SubmitActivities.
func (c *Coordinator) CommitActivities(ctx context.Context, target domain.CommitTarget, rv *review.Session) (Result, error) {
	sub, err := c.PrepareActivities(rv)
	if err != nil {
		return Result{}, err
	}
	return c.SubmitActivities(ctx, target, sub)
}

func (c *Coordinator) invalidate(ctx context.Context, userID string, area domain.Area, log *zap.Logger) {
	if c.invalidator == nil {
		return
	}
	if err := c.invalidator.Invalidate(ctx, userID, area); err != nil {
		log.Warn("Failed to invalidate cached area state", zap.String("area", string(area)), zap.Error(err))
	}
}

func wrapTransport(err error) error {
	if errors.Is(err, domain.ErrCommitTransport) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrCommitTransport, err)
}

func projectPath(projectID int64) string {
	return fmt.Sprintf("/project/%d", projectID)
}
