// Package review хранит редактируемое пользователем состояние между генерацией и коммитом.
//
// Session не потокобезопасна: доступ к ней сериализует владеющая сессия workflow.
package review

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"devlog-server/internal/domain"
)

// MaxTitleLength - максимальная длина заголовка дневника (в символах).
const MaxTitleLength = 50

// CandidatePatch описывает частичное изменение кандидата. nil-поля не меняются.
type CandidatePatch struct {
	Title        *string      `json:"title,omitempty"`
	Content      *string      `json:"content,omitempty"`
	StartDate    *domain.Date `json:"startDate,omitempty"`
	EndDate      *domain.Date `json:"endDate,omitempty"`
	ProjectTitle *string      `json:"projectTitle,omitempty"`
}

type candidateState struct {
	candidate domain.ActivityCandidate
	selected  bool
	keywordID int64 // 0 - пользователь не выбирал
}

// Selection - выбранный кандидат вместе с явным выбором ключевого слова (0, если выбора не было).
type Selection struct {
	Candidate       domain.ActivityCandidate
	ChosenKeywordID int64
}

// Session - состояние проверки результата генерации.
type Session struct {
	kind domain.ResultKind

	title      string
	titleEmpty bool

	existing   []domain.Activity
	keep       map[int64]bool
	candidates []candidateState
	confirmed  bool

	dirty  bool
	locked bool
}

// NewTitleReview создает проверку предложенного заголовка.
func NewTitleReview(suggestion domain.TitleSuggestion) *Session {
	return &Session{
		kind:  domain.ResultTitle,
		title: capTitle(suggestion.Title),
	}
}

// NewActivityReview создает проверку извлеченных активностей.
// По умолчанию все существующие активности сохраняются, все кандидаты выбраны.
func NewActivityReview(existing []domain.Activity, set domain.ActivityCandidateSet) *Session {
	s := &Session{
		kind:       domain.ResultActivities,
		existing:   append([]domain.Activity(nil), existing...),
		keep:       make(map[int64]bool, len(existing)),
		candidates: make([]candidateState, len(set.Candidates)),
	}
	for _, a := range existing {
		s.keep[a.ID] = true
	}
	for i, c := range set.Candidates {
		s.candidates[i] = candidateState{candidate: c.Clone(), selected: true}
	}
	return s
}

// FromResult создает проверку по варианту результата генерации.
func FromResult(result domain.GenerationResult, existing []domain.Activity) (*Session, error) {
	switch result.Kind {
	case domain.ResultTitle:
		if result.Title == nil {
			return nil, fmt.Errorf("title result without payload: %w", domain.ErrMalformedResult)
		}
		return NewTitleReview(*result.Title), nil
	case domain.ResultActivities:
		if result.Activities == nil {
			return nil, fmt.Errorf("activities result without payload: %w", domain.ErrMalformedResult)
		}
		return NewActivityReview(existing, *result.Activities), nil
	default:
		return nil, fmt.Errorf("unknown result kind %q: %w", result.Kind, domain.ErrMalformedResult)
	}
}

func (s *Session) Kind() domain.ResultKind { return s.kind }

func (s *Session) mutable(kind domain.ResultKind) error {
	if s.Locked() {
		return domain.ErrReviewLocked
	}
	if s.kind != kind {
		return fmt.Errorf("operation not applicable to %s review: %w", s.kind, domain.ErrInvalidInput)
	}
	return nil
}

// EditTitle заменяет заголовок. Любое редактирование снимает флаг пустого заголовка.
func (s *Session) EditTitle(text string) error {
	if err := s.mutable(domain.ResultTitle); err != nil {
		return err
	}
	s.title = capTitle(text)
	s.titleEmpty = false
	s.dirty = true
	return nil
}

// ToggleKeep переключает сохранение существующей активности.
func (s *Session) ToggleKeep(activityID int64) error {
	if err := s.mutable(domain.ResultActivities); err != nil {
		return err
	}
	if _, ok := s.keep[activityID]; !ok {
		return fmt.Errorf("activity %d is not part of this project: %w", activityID, domain.ErrInvalidInput)
	}
	s.keep[activityID] = !s.keep[activityID]
	s.dirty = true
	return nil
}

// EditCandidate применяет частичное изменение к кандидату.
func (s *Session) EditCandidate(index int, patch CandidatePatch) error {
	if err := s.mutable(domain.ResultActivities); err != nil {
		return err
	}
	st, err := s.candidateAt(index)
	if err != nil {
		return err
	}
	next := st.candidate
	if patch.Title != nil {
		next.Title = *patch.Title
	}
	if patch.Content != nil {
		next.Content = *patch.Content
	}
	if patch.StartDate != nil {
		next.StartDate = *patch.StartDate
	}
	if patch.EndDate != nil {
		next.EndDate = *patch.EndDate
	}
	if patch.ProjectTitle != nil {
		next.ProjectTitle = *patch.ProjectTitle
	}
	if !next.StartDate.IsZero() && !next.EndDate.IsZero() && next.EndDate.Before(next.StartDate.Time) {
		return fmt.Errorf("end date precedes start date: %w", domain.ErrInvalidInput)
	}
	st.candidate = next
	s.dirty = true
	return nil
}

// ToggleCandidate включает или исключает кандидата из сохранения.
func (s *Session) ToggleCandidate(index int) error {
	if err := s.mutable(domain.ResultActivities); err != nil {
		return err
	}
	st, err := s.candidateAt(index)
	if err != nil {
		return err
	}
	st.selected = !st.selected
	s.dirty = true
	return nil
}

// SelectKeyword фиксирует выбор ключевого слова из подсказок кандидата.
func (s *Session) SelectKeyword(index int, keywordID int64) error {
	if err := s.mutable(domain.ResultActivities); err != nil {
		return err
	}
	st, err := s.candidateAt(index)
	if err != nil {
		return err
	}
	if !st.candidate.HasKeyword(keywordID) {
		return fmt.Errorf("keyword %d is not suggested for candidate %d: %w", keywordID, index, domain.ErrInvalidInput)
	}
	st.keywordID = keywordID
	s.dirty = true
	return nil
}

func (s *Session) candidateAt(index int) (*candidateState, error) {
	if index < 0 || index >= len(s.candidates) {
		return nil, fmt.Errorf("candidate index %d out of range: %w", index, domain.ErrInvalidInput)
	}
	return &s.candidates[index], nil
}

// Confirm отмечает проверку активностей как подтвержденную пользователем.
func (s *Session) Confirm() {
	s.confirmed = true
}

// IsReadyToCommit проверяет готовность без побочных эффектов.
func (s *Session) IsReadyToCommit() bool {
	return s.readiness() == nil
}

// CheckReady возвращает причину, по которой коммит невозможен.
// Пустой заголовок дополнительно выставляет видимый флаг TitleEmpty.
func (s *Session) CheckReady() error {
	err := s.readiness()
	if err != nil && s.kind == domain.ResultTitle {
		s.titleEmpty = true
	}
	return err
}

func (s *Session) readiness() error {
	switch s.kind {
	case domain.ResultTitle:
		if strings.TrimSpace(s.title) == "" {
			return domain.ErrEmptyTitle
		}
		return nil
	case domain.ResultActivities:
		if !s.confirmed {
			return fmt.Errorf("review not confirmed: %w", domain.ErrInvalidTransition)
		}
		for i, st := range s.candidates {
			if st.selected && len(st.candidate.Keywords) == 0 {
				return fmt.Errorf("candidate %d: %w", i, domain.ErrMissingKeyword)
			}
		}
		return nil
	}
	return domain.ErrInvalidInput
}

func (s *Session) Dirty() bool { return s.dirty }

// Lock запрещает изменения на время коммита.
func (s *Session) Lock() { s.locked = true }

func (s *Session) Unlock() { s.locked = false }

func (s *Session) Locked() bool { return s.locked }

// Title возвращает заголовок без пробелов по краям.
func (s *Session) Title() string {
	return strings.TrimSpace(s.title)
}

// KeptIDs возвращает id сохраняемых активностей по возрастанию.
func (s *Session) KeptIDs() []int64 {
	ids := make([]int64, 0, len(s.keep))
	for id, kept := range s.keep {
		if kept {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Selected возвращает выбранных кандидатов в исходном порядке.
func (s *Session) Selected() []Selection {
	out := make([]Selection, 0, len(s.candidates))
	for _, st := range s.candidates {
		if st.selected {
			out = append(out, Selection{Candidate: st.candidate.Clone(), ChosenKeywordID: st.keywordID})
		}
	}
	return out
}

func capTitle(text string) string {
	if utf8.RuneCountInString(text) <= MaxTitleLength {
		return text
	}
	return string([]rune(text)[:MaxTitleLength])
}
