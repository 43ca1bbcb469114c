package validation_test

import (
	"strings"
	"testing"

	"devlog-server/internal/domain"
	"devlog-server/internal/validation"

	"github.com/stretchr/testify/assert"
)

func answers(lengths ...int) domain.DraftInput {
	draft := domain.DraftInput{}
	for i, n := range lengths {
		draft.QAs = append(draft.QAs, domain.QA{
			Question: "q" + string(rune('1'+i)),
			Answer:   strings.Repeat("a", n),
		})
	}
	return draft
}

func TestDiary_Boundary(t *testing.T) {
	t.Run("49 characters is not eligible", func(t *testing.T) {
		res := validation.Diary(answers(20, 29))
		assert.False(t, res.Eligible)
		assert.Equal(t, 49, res.Length)
		assert.NotEmpty(t, res.Reason)
	})

	t.Run("exactly 50 characters is eligible", func(t *testing.T) {
		res := validation.Diary(answers(25, 25))
		assert.True(t, res.Eligible)
		assert.Equal(t, 50, res.Length)
		assert.Empty(t, res.Reason)
	})

	t.Run("no answers", func(t *testing.T) {
		res := validation.Diary(domain.DraftInput{})
		assert.False(t, res.Eligible)
		assert.Equal(t, validation.MinDiaryLength, res.Required)
	})
}

func TestDiary_CountsRunesNotBytes(t *testing.T) {
	// 25 слогов хангыля = 75 байт, но 25 символов
	hangul := strings.Repeat("가", 25)
	draft := domain.DraftInput{QAs: []domain.QA{{Question: "q", Answer: hangul}}}

	res := validation.Diary(draft)
	assert.False(t, res.Eligible)
	assert.Equal(t, 25, res.Length)

	draft.QAs = append(draft.QAs, domain.QA{Question: "q2", Answer: hangul})
	assert.True(t, validation.Diary(draft).Eligible)
}

func TestActivity(t *testing.T) {
	assert.False(t, validation.Activity(domain.DraftInput{}).Eligible)
	assert.False(t, validation.Activity(domain.DraftInput{Text: "  \n\t"}).Eligible)
	assert.True(t, validation.Activity(domain.DraftInput{Text: "x"}).Eligible)
}

func TestFor(t *testing.T) {
	draft := domain.DraftInput{Text: "retro", QAs: nil}
	assert.True(t, validation.For(domain.FlowActivity, draft).Eligible)
	assert.False(t, validation.For(domain.FlowDiary, draft).Eligible)
}
