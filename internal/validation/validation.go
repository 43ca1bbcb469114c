// Package validation решает, можно ли отправить черновик на генерацию.
// Все функции - чистые предикаты над текущим черновиком.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"devlog-server/internal/domain"
)

// MinDiaryLength - минимальная суммарная длина ответов дневника (в символах).
const MinDiaryLength = 50

// Result - итог проверки допуска к генерации.
type Result struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
	Length   int    `json:"length"`
	Required int    `json:"required"`
}

// Diary допускает черновик, если суммарная длина ответов не меньше MinDiaryLength.
// Длина считается в рунах: хангыль и латиница весят одинаково.
func Diary(draft domain.DraftInput) Result {
	total := 0
	for _, qa := range draft.QAs {
		total += utf8.RuneCountInString(qa.Answer)
	}
	res := Result{Eligible: total >= MinDiaryLength, Length: total, Required: MinDiaryLength}
	if !res.Eligible {
		res.Reason = fmt.Sprintf("answers are too short: %d of %d characters", total, MinDiaryLength)
	}
	return res
}

// Activity допускает черновик, если текст ретроспективы не пустой.
func Activity(draft domain.DraftInput) Result {
	length := utf8.RuneCountInString(strings.TrimSpace(draft.Text))
	res := Result{Eligible: length > 0, Length: length, Required: 1}
	if !res.Eligible {
		res.Reason = "retrospective text is empty"
	}
	return res
}

// For выбирает проверку по сценарию.
func For(flow domain.Flow, draft domain.DraftInput) Result {
	if flow == domain.FlowActivity {
		return Activity(draft)
	}
	return Diary(draft)
}
