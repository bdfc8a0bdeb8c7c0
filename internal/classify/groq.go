package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mselvam/inboxzero/internal/model"
)

const (
	defaultModel     = "llama-3.3-70b-versatile"
	defaultMaxTokens = 600
	apiURL           = "https://api.groq.com/openai/v1/chat/completions"
)

// GroqClassifier calls the Groq chat-completions API to classify a
// message and draft a reply.
type GroqClassifier struct {
	apiKey      string
	modelName   string
	maxTokens   int
	temperature float64
	userName    string
	client      *http.Client
	baseURL     string
}

// NewGroqClassifier creates a classifier for the given API key.
// userName is used for reply signatures in the prompt.
func NewGroqClassifier(apiKey, modelName string, maxTokens int, temperature float64, userName string) *GroqClassifier {
	if modelName == "" {
		modelName = defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if temperature <= 0 {
		temperature = 0.3
	}

	return &GroqClassifier{
		apiKey:      apiKey,
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: temperature,
		userName:    userName,
		client:      &http.Client{},
		baseURL:     apiURL,
	}
}

// Classify sends the message to the model and parses the structured
// verdict from its response. Failures are returned as TransientError.
func (g *GroqClassifier) Classify(
	ctx context.Context,
	sender, subject, body string,
) (model.Verdict, error) {
	prompt := g.buildPrompt(sender, subject, body)

	reqBody := apiRequest{
		Model: g.modelName,
		Messages: []apiMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return model.Verdict{}, &TransientError{Op: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, g.baseURL, bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return model.Verdict{}, &TransientError{Op: "create request", Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return model.Verdict{}, &TransientError{Op: "call API", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Verdict{}, &TransientError{Op: "read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return model.Verdict{}, &TransientError{
				Op:  "call API",
				Err: fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error.Message),
			}
		}
		return model.Verdict{}, &TransientError{
			Op:  "call API",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return model.Verdict{}, &TransientError{Op: "decode response", Err: err}
	}
	if len(result.Choices) == 0 {
		return model.Verdict{}, &TransientError{
			Op:  "decode response",
			Err: fmt.Errorf("no choices returned"),
		}
	}

	return parseVerdict(strings.TrimSpace(result.Choices[0].Message.Content)), nil
}

// buildPrompt constructs the analysis prompt for one message.
func (g *GroqClassifier) buildPrompt(sender, subject, body string) string {
	user := g.userName
	if user == "" {
		user = "the user"
	}

	var sb strings.Builder

	sb.WriteString("You are an expert executive assistant AI for ")
	sb.WriteString(user)
	sb.WriteString(", known for professional, warm, and intelligent communication.\n\n")

	sb.WriteString("EMAIL TO ANALYZE:\n")
	fmt.Fprintf(&sb, "From: %s\nSubject: %s\nPreview: %s\n\n", sender, subject, body)

	sb.WriteString("Classify the email into one of: Important (work matters, urgent ")
	sb.WriteString("requests, meetings, deadlines, business opportunities), Personal ")
	sb.WriteString("(friends, family, social invitations), Newsletter (marketing, ")
	sb.WriteString("updates, subscriptions, promotional content), or Spam (unsolicited, ")
	sb.WriteString("irrelevant, suspicious, low-quality).\n\n")

	sb.WriteString("Assign a priority: High (needs immediate attention, time-sensitive), ")
	sb.WriteString("Medium (respond within 24-48 hours), or Low (can wait, informational ")
	sb.WriteString("only, no response needed).\n\n")

	sb.WriteString("Draft a reply for Important and Personal emails: warm, professional, ")
	sb.WriteString("3-5 sentences, address specific points from the email, include next ")
	sb.WriteString("steps or a question where appropriate, and sign it \"Best regards,\\n")
	sb.WriteString(user)
	sb.WriteString("\". For Newsletter or Spam, output exactly \"No reply needed\".\n\n")

	sb.WriteString("OUTPUT FORMAT (strict JSON):\n")
	sb.WriteString(`{
  "category": "Important|Personal|Newsletter|Spam",
  "priority": "High|Medium|Low",
  "reply": "Your drafted reply OR 'No reply needed'",
  "reasoning": "Brief explanation of the classification",
  "needs_reply": true|false
}`)

	return sb.String()
}

// parseVerdict extracts a verdict from the model's response text. It
// prefers the embedded JSON object; if that fails it falls back to a
// line-oriented "Category:/Priority:/Reply:" format.
func parseVerdict(text string) model.Verdict {
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			var raw struct {
				Category   string `json:"category"`
				Priority   string `json:"priority"`
				Reply      string `json:"reply"`
				Reasoning  string `json:"reasoning"`
				NeedsReply *bool  `json:"needs_reply"`
			}
			if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err == nil && raw.Category != "" {
				v := model.Verdict{
					Category:     normalizeCategory(raw.Category),
					PriorityHint: normalizeHint(raw.Priority),
					Reply:        raw.Reply,
					Reasoning:    raw.Reasoning,
				}
				if raw.NeedsReply != nil {
					v.NeedsReply = *raw.NeedsReply
				} else {
					v.NeedsReply = !strings.Contains(raw.Reply, "No reply needed")
				}
				return v
			}
		}
	}

	return parseTextVerdict(text)
}

// parseTextVerdict handles non-JSON model output.
func parseTextVerdict(text string) model.Verdict {
	v := model.Verdict{
		Category:     model.CategoryPersonal,
		PriorityHint: model.HintMedium,
		Reply:        text,
		Reasoning:    "Parsed from text format",
	}

	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "Category:"):
			v.Category = normalizeCategory(strings.TrimSpace(strings.TrimPrefix(line, "Category:")))
		case strings.HasPrefix(line, "Priority:"):
			v.PriorityHint = normalizeHint(strings.TrimSpace(strings.TrimPrefix(line, "Priority:")))
		case strings.HasPrefix(line, "Reply:"):
			v.Reply = strings.TrimSpace(strings.TrimPrefix(line, "Reply:"))
		}
	}

	v.NeedsReply = !strings.Contains(v.Reply, "No reply needed")
	return v
}

func normalizeCategory(s string) model.Category {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "important":
		return model.CategoryImportant
	case "newsletter":
		return model.CategoryNewsletter
	case "spam":
		return model.CategorySpam
	default:
		return model.CategoryPersonal
	}
}

func normalizeHint(s string) model.PriorityHint {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return model.HintHigh
	case "low":
		return model.HintLow
	default:
		return model.HintMedium
	}
}

// --- Groq API types ---

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	ID      string      `json:"id"`
	Model   string      `json:"model"`
	Choices []apiChoice `json:"choices"`
}

type apiChoice struct {
	Index        int        `json:"index"`
	Message      apiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
