package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"devlog-server/internal/domain"
)

// Caller - минимальный RPC интерфейс (реализуется RPCClient).
type Caller interface {
	Call(ctx context.Context, queue string, request, response any) error
}

// GenerationTransport выполняет генерацию через очереди сервиса генерации.
type GenerationTransport struct {
	rpc             Caller
	titleQueue      string
	experienceQueue string
}

func NewGenerationTransport(rpc Caller, titleQueue, experienceQueue string) *GenerationTransport {
	return &GenerationTransport{rpc: rpc, titleQueue: titleQueue, experienceQueue: experienceQueue}
}

type envelope struct {
	Data any `json:"data"`
}

type titleReply struct {
	Type   string          `json:"type"`
	Result json.RawMessage `json:"result"`
}

// GenerateTitle отправляет пары вопрос/ответ в очередь заголовков.
func (t *GenerationTransport) GenerateTitle(ctx context.Context, qas []domain.QA) (string, error) {
	var reply titleReply
	if err := t.rpc.Call(ctx, t.titleQueue, envelope{Data: qas}, &reply); err != nil {
		return "", err
	}
	if reply.Type != "" && reply.Type != "title_response" {
		return "", fmt.Errorf("unexpected reply type %q: %w", reply.Type, domain.ErrMalformedResult)
	}

	// result приходит строкой, но допускаем и объект {"title": ...}
	var title string
	if err := json.Unmarshal(reply.Result, &title); err == nil {
		return title, nil
	}
	var obj struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(reply.Result, &obj); err != nil {
		return "", fmt.Errorf("title reply: %w", domain.ErrMalformedResult)
	}
	return obj.Title, nil
}

type experienceData struct {
	RetrospectiveContent string           `json:"retrospective_content"`
	Keywords             []domain.Keyword `json:"keywords"`
}

type experienceReply struct {
	Experiences []domain.ActivityCandidate `json:"experiences"`
}

// ExtractActivities отправляет текст ретроспективы в очередь извлечения.
func (t *GenerationTransport) ExtractActivities(ctx context.Context, text string, keywords []domain.Keyword) ([]domain.ActivityCandidate, error) {
	if keywords == nil {
		keywords = []domain.Keyword{}
	}
	var reply experienceReply
	req := envelope{Data: experienceData{RetrospectiveContent: text, Keywords: keywords}}
	if err := t.rpc.Call(ctx, t.experienceQueue, req, &reply); err != nil {
		return nil, err
	}
	return reply.Experiences, nil
}
