package backend

import (
	"context"
	"fmt"
	"net/http"

	"devlog-server/internal/domain"
)

type titleRequest struct {
	QnAs []domain.QA `json:"qnas"`
}

type titleResponse struct {
	Title string `json:"title"`
}

// GenerateTitle запрашивает у бэкенда заголовок дневника по ответам.
func (c *Client) GenerateTitle(ctx context.Context, qas []domain.QA) (string, error) {
	var resp titleResponse
	if err := c.do(ctx, http.MethodPost, "/diaries/title", titleRequest{QnAs: qas}, &resp); err != nil {
		return "", err
	}
	return resp.Title, nil
}

type experienceRequest struct {
	RetrospectiveContent string           `json:"retrospective_content"`
	Keywords             []domain.Keyword `json:"keywords"`
}

type experienceResponse struct {
	Experiences []domain.ActivityCandidate `json:"experiences"`
}

// ExtractActivities запрашивает извлечение активностей из текста ретроспективы.
func (c *Client) ExtractActivities(ctx context.Context, text string, keywords []domain.Keyword) ([]domain.ActivityCandidate, error) {
	if keywords == nil {
		keywords = []domain.Keyword{}
	}
	var resp experienceResponse
	req := experienceRequest{RetrospectiveContent: text, Keywords: keywords}
	if err := c.do(ctx, http.MethodPost, "/rabbitmq/send/experience", req, &resp); err != nil {
		return nil, err
	}
	return resp.Experiences, nil
}

type keywordsResponse struct {
	Keywords []domain.Keyword `json:"keywords"`
}

// FetchKeywords возвращает таксономию ключевых слов.
func (c *Client) FetchKeywords(ctx context.Context) ([]domain.Keyword, error) {
	var resp keywordsResponse
	if err := c.do(ctx, http.MethodGet, "/keywords", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Keywords, nil
}

type activitiesResponse struct {
	Activities []domain.Activity `json:"activities"`
}

// ListActivities возвращает уже сохраненные активности проекта.
func (c *Client) ListActivities(ctx context.Context, projectID int64) ([]domain.Activity, error) {
	var resp activitiesResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/projects/%d/activities", projectID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Activities, nil
}

type createdResponse struct {
	ID int64 `json:"id"`
}

// CreateDiary сохраняет дневник и возвращает его id.
func (c *Client) CreateDiary(ctx context.Context, projectID int64, sub domain.DiarySubmission) (int64, error) {
	if sub.Images == nil {
		sub.Images = []string{}
	}
	var resp createdResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/projects/%d/diaries", projectID), sub, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// SaveActivities сохраняет набор активностей проекта одним запросом.
// Активности, не попавшие в SavedActivities, бэкенд удаляет.
func (c *Client) SaveActivities(ctx context.Context, projectID int64, sub domain.ActivitySubmission) error {
	if sub.SavedActivities == nil {
		sub.SavedActivities = []int64{}
	}
	if sub.NewActivities == nil {
		sub.NewActivities = []domain.NewActivity{}
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/projects/%d/activities", projectID), sub, nil)
}
