package domain

// DiarySubmission - итоговый payload сохранения дневника.
type DiarySubmission struct {
	Title   string   `json:"title"`
	Answers []string `json:"answers"`
	Images  []string `json:"images"`
}

// NewActivity - новая активность с единственным выбранным ключевым словом.
type NewActivity struct {
	Title        string `json:"title"`
	Content      string `json:"content"`
	StartDate    Date   `json:"startDate"`
	EndDate      Date   `json:"endDate"`
	ProjectTitle string `json:"projectTitle,omitempty"`
	Keyword      int64  `json:"keywords"`
}

// ActivitySubmission - итоговый payload сохранения активностей проекта.
type ActivitySubmission struct {
	SavedActivities []int64       `json:"savedActivities"`
	NewActivities   []NewActivity `json:"newActivities"`
}

// CommitTarget - куда сохраняется результат.
type CommitTarget struct {
	UserID    string
	ProjectID int64
}
