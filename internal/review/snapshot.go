package review

import "devlog-server/internal/domain"

// ExistingView - существующая активность и отметка о ее сохранении.
type ExistingView struct {
	Activity domain.Activity `json:"activity"`
	Kept     bool            `json:"kept"`
}

// CandidateView - кандидат в том виде, в каком его видит пользователь.
type CandidateView struct {
	Candidate domain.ActivityCandidate `json:"candidate"`
	Selected  bool                     `json:"selected"`
	KeywordID int64                    `json:"keywordId,omitempty"`
}

// Snapshot - неизменяемое представление проверки для API.
type Snapshot struct {
	Kind       domain.ResultKind `json:"kind"`
	Title      string            `json:"title,omitempty"`
	TitleEmpty bool              `json:"titleEmpty,omitempty"`
	Existing   []ExistingView    `json:"existing,omitempty"`
	Candidates []CandidateView   `json:"candidates,omitempty"`
	Ready      bool              `json:"ready"`
	Dirty      bool              `json:"dirty"`
	Locked     bool              `json:"locked"`
}

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		Kind:       s.kind,
		Title:      s.title,
		TitleEmpty: s.titleEmpty,
		Ready:      s.IsReadyToCommit(),
		Dirty:      s.dirty,
		Locked:     s.Locked(),
	}
	if s.kind == domain.ResultActivities {
		snap.Existing = make([]ExistingView, len(s.existing))
		for i, a := range s.existing {
			snap.Existing[i] = ExistingView{Activity: a, Kept: s.keep[a.ID]}
		}
		snap.Candidates = make([]CandidateView, len(s.candidates))
		for i, st := range s.candidates {
			snap.Candidates[i] = CandidateView{Candidate: st.candidate.Clone(), Selected: st.selected, KeywordID: st.keywordID}
		}
	}
	return snap
}
