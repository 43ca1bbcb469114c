package domain

// ResultKind - вариант результата генерации.
type ResultKind string

const (
	ResultTitle      ResultKind = "title"
	ResultActivities ResultKind = "activities"
)

// TitleSuggestion - предложенный AI заголовок дневника.
type TitleSuggestion struct {
	Title string `json:"title"`
}

// ActivityCandidateSet - упорядоченный список извлеченных активностей.
type ActivityCandidateSet struct {
	Candidates []ActivityCandidate `json:"candidates"`
}

// GenerationResult - результат генерации (tagged variant).
// Ровно одно из полей Title/Activities заполнено в соответствии с Kind.
type GenerationResult struct {
	Kind       ResultKind            `json:"kind"`
	Title      *TitleSuggestion      `json:"title,omitempty"`
	Activities *ActivityCandidateSet `json:"activities,omitempty"`
}

// NewTitleResult оборачивает предложенный заголовок.
func NewTitleResult(title string) GenerationResult {
	return GenerationResult{Kind: ResultTitle, Title: &TitleSuggestion{Title: title}}
}

// NewActivitiesResult оборачивает список кандидатов.
func NewActivitiesResult(candidates []ActivityCandidate) GenerationResult {
	if candidates == nil {
		candidates = []ActivityCandidate{}
	}
	return GenerationResult{Kind: ResultActivities, Activities: &ActivityCandidateSet{Candidates: candidates}}
}
