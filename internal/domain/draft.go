package domain

import (
	"time"

	"github.com/google/uuid"
)

// QA - пара вопрос/ответ дневника.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// MediaRef - ссылка на загруженное изображение.
type MediaRef struct {
	URL string `json:"url"`
}

// DraftInput содержит пользовательский ввод до генерации.
// Для дневника заполняется QAs, для извлечения активностей - Text.
type DraftInput struct {
	QAs    []QA       `json:"qas,omitempty"`
	Text   string     `json:"text,omitempty"`
	Images []MediaRef `json:"images,omitempty"`
}

// Clone возвращает глубокую копию черновика.
func (d DraftInput) Clone() DraftInput {
	out := DraftInput{Text: d.Text}
	if d.QAs != nil {
		out.QAs = append([]QA(nil), d.QAs...)
	}
	if d.Images != nil {
		out.Images = append([]MediaRef(nil), d.Images...)
	}
	return out
}

// Answers возвращает ответы в порядке вопросов.
func (d DraftInput) Answers() []string {
	answers := make([]string, len(d.QAs))
	for i, qa := range d.QAs {
		answers[i] = qa.Answer
	}
	return answers
}

// ImageURLs возвращает URL изображений в порядке прикрепления.
func (d DraftInput) ImageURLs() []string {
	urls := make([]string, len(d.Images))
	for i, img := range d.Images {
		urls[i] = img.URL
	}
	return urls
}

// IsEmpty - пользователь еще ничего не ввел.
func (d DraftInput) IsEmpty() bool {
	if d.Text != "" || len(d.Images) > 0 {
		return false
	}
	for _, qa := range d.QAs {
		if qa.Answer != "" {
			return false
		}
	}
	return true
}

// GenerationRequest - неизменяемый снимок черновика, отправляемый на генерацию.
type GenerationRequest struct {
	SessionID uuid.UUID
	Kind      ResultKind
	QAs       []QA
	Text      string
	Keywords  []Keyword
	IssuedAt  time.Time
}

// NewGenerationRequest делает снимок черновика для указанного варианта результата.
func NewGenerationRequest(sessionID uuid.UUID, kind ResultKind, draft DraftInput) GenerationRequest {
	snapshot := draft.Clone()
	return GenerationRequest{
		SessionID: sessionID,
		Kind:      kind,
		QAs:       snapshot.QAs,
		Text:      snapshot.Text,
		IssuedAt:  time.Now().UTC(),
	}
}
