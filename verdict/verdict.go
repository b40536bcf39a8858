// Package verdict asks an image-understanding model whether a submitted
// deposit screenshot satisfies the funnel's acceptance criteria. The
// model is a black-box judge: it extracts the deposit fields and returns
// an approve/reject decision with human-readable reasons.
package verdict

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Criteria a submission must meet.
type Criteria struct {
	MinAmount      float64
	RequiredStatus string

	// Mode is "today" (deposit dated today, dd.mm.yy, in Location) or
	// "after_chat" (deposit made after ChatStartedAt).
	Mode          string
	ChatStartedAt time.Time
	Location      *time.Location
}

// Verdict is the judge's decision.
type Verdict struct {
	Approved bool     `json:"approved"`
	Amount   *float64 `json:"amount"`
	DateText string   `json:"date_text"`
	Status   string   `json:"status"`
	TxID     string   `json:"transaction_id"`
	Reasons  []string `json:"reasons"`
}

// Oracle inspects proof images. Implementations must treat a non-nil
// error as "could not judge", never as a rejection.
type Oracle interface {
	Inspect(ctx context.Context, image []byte, c Criteria) (Verdict, error)
}

// OpenAIOracle judges screenshots with a vision-capable chat model.
type OpenAIOracle struct {
	client *openai.Client
	model  string
}

func NewOpenAIOracle(apiKey, model string) *OpenAIOracle {
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIOracle{client: openai.NewClient(apiKey), model: model}
}

func (o *OpenAIOracle) Inspect(ctx context.Context, image []byte, c Criteria) (Verdict, error) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: buildPrompt(c)},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
			},
		}},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("verdict request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Verdict{}, fmt.Errorf("verdict response had no choices")
	}

	return parseVerdict(resp.Choices[0].Message.Content)
}

func buildPrompt(c Criteria) string {
	var rule string
	if strings.EqualFold(c.Mode, "after_chat") {
		rule = fmt.Sprintf(
			"Approve ONLY if: status is %q, amount >= %.2f, and the deposit date/time is AFTER %s.",
			c.RequiredStatus, c.MinAmount, c.ChatStartedAt.Format(time.RFC3339))
	} else {
		now := time.Now()
		if c.Location != nil {
			now = now.In(c.Location)
		}
		rule = fmt.Sprintf(
			"Approve ONLY if: status is %q, amount >= %.2f, and the deposit date EQUALS %s.",
			c.RequiredStatus, c.MinAmount, now.Format("02.01.06"))
	}

	return fmt.Sprintf(`You validate screenshots of a betting site's transaction history.
Inspect ONLY the Deposit entry that is expanded (arrow pointing up).
Extract these fields:
  - amount (number, currency symbol stripped)
  - date_text (exactly as shown, e.g. 17.07.25 00:18)
  - status (e.g. Completed)
  - transaction_id (if visible)

Approval rule:
- %s

Reply with strict JSON only:
{
  "amount": number | null,
  "date_text": string | null,
  "status": string | null,
  "transaction_id": string | null,
  "approved": boolean,
  "reasons": string[]
}
If an essential field is missing, set "approved": false and explain in "reasons".`, rule)
}

// parseVerdict tolerates code fences and leading prose around the JSON
// object models occasionally emit.
func parseVerdict(raw string) (Verdict, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return Verdict{}, fmt.Errorf("verdict response is not JSON: %q", raw)
	}

	var v Verdict
	if err := json.Unmarshal([]byte(raw[start:end+1]), &v); err != nil {
		return Verdict{}, fmt.Errorf("failed to decode verdict: %w", err)
	}
	return v, nil
}
