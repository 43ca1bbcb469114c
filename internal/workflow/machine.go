package workflow

import (
	"fmt"

	"devlog-server/internal/domain"
)

// Event - действие, переводящее сессию между этапами.
type Event string

const (
	EventSubmit    Event = "submit"
	EventGenerated Event = "generated"
	EventCommit    Event = "commit"
	EventCommitted Event = "committed"
	EventFail      Event = "fail"
	EventRetry     Event = "retry"
	EventDismiss   Event = "dismiss"
	EventCancel    Event = "cancel"
)

// State - текущий этап. Origin заполнен только в StageError и указывает,
// на каком этапе произошел сбой (generating или committing).
type State struct {
	Stage  domain.Stage `json:"stage"`
	Origin domain.Stage `json:"origin,omitempty"`
}

// Initial - начальное состояние любой новой сессии.
func Initial() State {
	return State{Stage: domain.StageDrafting}
}

var transitions = map[domain.Stage]map[Event]domain.Stage{
	domain.StageDrafting: {
		EventSubmit: domain.StageGenerating,
	},
	domain.StageGenerating: {
		EventGenerated: domain.StageReviewing,
		EventFail:      domain.StageError,
	},
	domain.StageReviewing: {
		EventCommit: domain.StageCommitting,
		EventCancel: domain.StageDrafting,
	},
	domain.StageCommitting: {
		EventCommitted: domain.StageDone,
		EventFail:      domain.StageError,
	},
	domain.StageError: {
		EventCancel: domain.StageDrafting,
	},
}

// predecessor - этап, предшествующий этапу с сетевым вызовом.
func predecessor(origin domain.Stage) domain.Stage {
	if origin == domain.StageCommitting {
		return domain.StageReviewing
	}
	return domain.StageDrafting
}

// Next применяет событие к состоянию. Гейты (валидация, готовность проверки)
// проверяются вызывающим до перехода; Next отвечает только за таблицу переходов.
func (s State) Next(ev Event) (State, error) {
	if s.Stage == domain.StageError {
		switch ev {
		case EventRetry:
			return State{Stage: s.Origin}, nil
		case EventDismiss:
			return State{Stage: predecessor(s.Origin)}, nil
		}
	}

	to, ok := transitions[s.Stage][ev]
	if !ok {
		return s, fmt.Errorf("%w: %s on %s", domain.ErrInvalidTransition, ev, s.Stage)
	}
	if to == domain.StageError {
		return State{Stage: to, Origin: s.Stage}, nil
	}
	return State{Stage: to}, nil
}

// Terminal - сессия больше не может измениться.
func (s State) Terminal() bool {
	return s.Stage == domain.StageDone
}
