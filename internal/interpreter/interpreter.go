package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/high-cuisine/vetclinic-bot/pkg/logging"
)

// Intent classifies how a user message relates to the asked question.
type Intent string

const (
	IntentAnswer   Intent = "answer"
	IntentOffTopic Intent = "off_topic"
	IntentRefuse   Intent = "refuse"
)

// Result is the classifier verdict for one step answer.
type Result struct {
	Intent Intent `json:"intent"`
	Value  string `json:"validated_value"`
	Reply  string `json:"reply_message"`
}

// StepRequest describes the question currently asked and the user's answer.
type StepRequest struct {
	Flow        string
	StepID      string
	StepLabel   string
	FormatHint  string
	UserMessage string
}

// completer is the minimal LLM surface, abstracted for tests.
type completer interface {
	complete(ctx context.Context, system, user string) (string, error)
}

// Classifier interprets free-form step answers through a chat model.
type Classifier struct {
	llm     completer
	timeout time.Duration
	logger  *logging.Logger
}

// New creates a Classifier talking to the OpenAI chat completions API.
func New(apiKey, model string, timeout time.Duration, logger *logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Classifier{
		llm:     newOpenAICompleter(apiKey, model),
		timeout: timeout,
		logger:  logger,
	}
}

const stepSystemPrompt = `Ты ассистент ветеринарной клиники. Пользователю задан вопрос в рамках пошагового диалога. Определи, как его сообщение относится к вопросу.

Ответь строго JSON-объектом без пояснений:
{"intent": "answer" | "off_topic" | "refuse", "validated_value": "...", "reply_message": "..."}

intent:
- "answer" — сообщение отвечает на вопрос. В validated_value положи нормализованный ответ (телефон в формате +7XXXXXXXXXX, дату как ГГГГ-ММ-ДД, время как ЧЧ:ММ, иначе исходный текст без лишних слов).
- "off_topic" — сообщение не связано с вопросом. В reply_message вежливо ответь и верни пользователя к вопросу.
- "refuse" — пользователь отказывается продолжать или просит прекратить. В reply_message вежливо попрощайся.`

// ClassifyStep asks the model whether the message answers the current
// question and returns the normalized value or a redirect reply.
func (c *Classifier) ClassifyStep(ctx context.Context, req StepRequest) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Вопрос пользователю: %s\n", req.StepLabel)
	if req.FormatHint != "" {
		fmt.Fprintf(&sb, "Ожидаемый формат: %s\n", req.FormatHint)
	}
	fmt.Fprintf(&sb, "Сообщение пользователя: %s", req.UserMessage)

	raw, err := c.llm.complete(ctx, stepSystemPrompt, sb.String())
	if err != nil {
		return nil, fmt.Errorf("interpreter: classify step %s/%s: %w", req.Flow, req.StepID, err)
	}

	result, err := parseResult(raw)
	if err != nil {
		return nil, fmt.Errorf("interpreter: classify step %s/%s: %w", req.Flow, req.StepID, err)
	}
	c.logger.Debug("step classified", "flow", req.Flow, "step", req.StepID, "intent", string(result.Intent))
	return result, nil
}

const flowSystemPrompt = `Ты маршрутизатор ветеринарной клиники. Определи, что хочет пользователь, и ответь одним словом:
create_appointment — записаться на прием
cancel_appointment — отменить запись
move_appointment — перенести запись
show_appointment — посмотреть свои записи
text — любой другой вопрос или разговор`

// ClassifyFlowIntent maps a free-form message to one of the flow
// identifiers or "text" for general conversation.
func (c *Classifier) ClassifyFlowIntent(ctx context.Context, message string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.llm.complete(ctx, flowSystemPrompt, message)
	if err != nil {
		return "", fmt.Errorf("interpreter: classify flow intent: %w", err)
	}
	verdict := strings.TrimSpace(strings.ToLower(raw))
	switch {
	case strings.Contains(verdict, FlowCreate):
		return FlowCreate, nil
	case strings.Contains(verdict, FlowCancel):
		return FlowCancel, nil
	case strings.Contains(verdict, FlowMove):
		return FlowMove, nil
	case strings.Contains(verdict, FlowShow):
		return FlowShow, nil
	default:
		return FlowText, nil
	}
}

// Reply generates a conversational answer for messages outside the flows,
// with recent history lines passed along for context.
func (c *Classifier) Reply(ctx context.Context, history []string, message string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var sb strings.Builder
	if len(history) > 0 {
		sb.WriteString("Контекст диалога:\n")
		for _, h := range history {
			sb.WriteString(h)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Сообщение: ")
	sb.WriteString(message)

	const system = "Ты вежливый ассистент ветеринарной клиники. Отвечай кратко и по делу. Если вопрос требует записи на прием, предложи записаться."
	raw, err := c.llm.complete(ctx, system, sb.String())
	if err != nil {
		return "", fmt.Errorf("interpreter: reply: %w", err)
	}
	return strings.TrimSpace(raw), nil
}

func parseResult(raw string) (*Result, error) {
	cleaned := strings.TrimSpace(raw)
	// Models occasionally wrap the object in a code fence.
	if start := strings.Index(cleaned, "{"); start >= 0 {
		if end := strings.LastIndex(cleaned, "}"); end > start {
			cleaned = cleaned[start : end+1]
		}
	}
	var result Result
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, fmt.Errorf("parse verdict %q: %w", raw, err)
	}
	switch result.Intent {
	case IntentAnswer, IntentOffTopic, IntentRefuse:
	default:
		result.Intent = IntentAnswer
		if result.Value == "" {
			result.Value = result.Reply
		}
	}
	return &result, nil
}
