package commit

import (
	"fmt"

	"devlog-server/internal/domain"
	"devlog-server/internal/review"
)

// KeywordPolicy сводит список подсказок кандидата к одному ключевому слову,
// которое принимает API сохранения.
type KeywordPolicy interface {
	Resolve(sel review.Selection) (int64, error)
}

// ChosenOrFirst берет выбор пользователя, а без него первую подсказку.
type ChosenOrFirst struct{}

func (ChosenOrFirst) Resolve(sel review.Selection) (int64, error) {
	if sel.ChosenKeywordID != 0 && sel.Candidate.HasKeyword(sel.ChosenKeywordID) {
		return sel.ChosenKeywordID, nil
	}
	if len(sel.Candidate.Keywords) == 0 {
		return 0, fmt.Errorf("candidate %q: %w", sel.Candidate.Title, domain.ErrMissingKeyword)
	}
	return sel.Candidate.Keywords[0].ID, nil
}
