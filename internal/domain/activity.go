package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date - календарная дата без времени, сериализуется как "2006-01-02".
// При разборе также принимается полный RFC3339 (так сериализует даты браузер).
type Date struct {
	time.Time
}

// NewDate возвращает дату, усеченную до календарного дня в UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// MarshalJSON реализует json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

// UnmarshalJSON реализует json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", raw, err)
	}
	y, m, day := t.UTC().Date()
	d.Time = time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	return nil
}

// KeywordType: 0 - технический навык, 1 - личное качество.
type KeywordType int

const (
	KeywordTech KeywordType = 0
	KeywordSoft KeywordType = 1
)

// Keyword - элемент таксономии ключевых слов.
type Keyword struct {
	ID   int64       `json:"id"`
	Name string      `json:"name"`
	Type KeywordType `json:"type"`
}

// Activity - уже сохраненная активность проекта.
type Activity struct {
	ID        int64     `json:"activityId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	StartDate Date      `json:"startDate"`
	EndDate   Date      `json:"endDate"`
	Keywords  []Keyword `json:"keywords"`
}

// ActivityCandidate - активность, извлеченная генерацией и ожидающая проверки.
type ActivityCandidate struct {
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	StartDate    Date      `json:"startDate"`
	EndDate      Date      `json:"endDate"`
	ProjectTitle string    `json:"projectTitle,omitempty"`
	Keywords     []Keyword `json:"keywords"`
}

// Clone возвращает глубокую копию кандидата.
func (c ActivityCandidate) Clone() ActivityCandidate {
	out := c
	if c.Keywords != nil {
		out.Keywords = append([]Keyword(nil), c.Keywords...)
	}
	return out
}

// HasKeyword - есть ли у кандидата предложенное ключевое слово с данным id.
func (c ActivityCandidate) HasKeyword(id int64) bool {
	for _, k := range c.Keywords {
		if k.ID == id {
			return true
		}
	}
	return false
}
