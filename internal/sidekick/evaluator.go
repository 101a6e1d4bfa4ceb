package sidekick

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openclaw/sidekick/internal/llm"
)

// evaluatorStep judges the worker's latest response against the success
// criteria and appends the feedback annotation to history.
func (s *Sidekick) evaluatorStep(ctx context.Context, t *turnState) error {
	lastResponse := t.messages[len(t.messages)-1].Content

	evalMessages := []llm.Message{
		{Role: llm.RoleSystem, Content: evaluatorSystemPrompt},
		{Role: llm.RoleUser, Content: s.evaluatorUserPrompt(t, lastResponse)},
	}

	verdict, usedFallback, err := s.judge(ctx, evalMessages)
	if err != nil {
		return err
	}
	s.log.EvaluatorVerdict(verdict.SuccessCriteriaMet, verdict.UserInputNeeded, usedFallback)

	t.messages = append(t.messages, llm.Message{
		Role:    llm.RoleAssistant,
		Content: "Evaluator Feedback on this answer: " + verdict.Feedback,
	})
	t.feedbackOnWork = verdict.Feedback
	t.criteriaMet = verdict.SuccessCriteriaMet
	t.userInputNeeded = verdict.UserInputNeeded
	return nil
}

// judge asks the evaluator model for a structured verdict. When the reply
// does not decode, it re-invokes for plain text and synthesizes a verdict
// from the raw reply; that path never fails.
func (s *Sidekick) judge(ctx context.Context, messages []llm.Message) (Verdict, bool, error) {
	resp, err := s.evaluator.Chat(ctx, llm.ChatRequest{Messages: messages})
	if err != nil {
		return Verdict{}, false, fmt.Errorf("evaluator call failed: %w", err)
	}

	if verdict, ok := decodeVerdict(resp.Content); ok {
		return verdict, false, nil
	}

	// Re-invoke on the plain-text channel; if even that fails, fall back
	// to the undecodable first reply rather than surfacing an error.
	raw := resp.Content
	if retry, err := s.evaluator.Chat(ctx, llm.ChatRequest{Messages: messages}); err == nil {
		raw = retry.Content
	}
	return fallbackVerdict(raw), true, nil
}

// decodeVerdict extracts and parses the verdict JSON from a model reply.
func decodeVerdict(content string) (Verdict, bool) {
	raw := extractJSON(content)
	if raw == "" {
		return Verdict{}, false
	}
	var verdict Verdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return Verdict{}, false
	}
	return verdict, true
}

// fallbackVerdict synthesizes a verdict from an undecodable model reply.
// The criteria are never considered met; user input is flagged when the
// text reads like a clarification request.
func fallbackVerdict(raw string) Verdict {
	lower := strings.ToLower(raw)
	userNeeded := strings.Contains(raw, "?") &&
		(strings.Contains(lower, "please") || strings.Contains(lower, "clarify"))

	return Verdict{
		Feedback:           raw,
		SuccessCriteriaMet: false,
		UserInputNeeded:    userNeeded,
	}
}

// extractJSON returns the first balanced JSON object in content.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}

// formatConversation renders the user/assistant exchange for the evaluator.
// Tool-request messages without text show as a placeholder.
func formatConversation(messages []llm.Message) string {
	var sb strings.Builder
	sb.WriteString("Conversation history:\n\n")
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleUser:
			fmt.Fprintf(&sb, "User: %s\n", msg.Content)
		case llm.RoleAssistant:
			text := msg.Content
			if text == "" {
				text = "[Tools use]"
			}
			fmt.Fprintf(&sb, "Assistant: %s\n", text)
		}
	}
	return sb.String()
}

const evaluatorSystemPrompt = "You are an evaluator that determines if a task has been completed successfully by an Assistant.\n" +
	"Assess the Assistant's last response based on the given criteria. Respond with your feedback, " +
	"and with your decision on whether the success criteria has been met, and whether more input is needed from the user."

func (s *Sidekick) evaluatorUserPrompt(t *turnState, lastResponse string) string {
	prompt := fmt.Sprintf(
		"You are evaluating a conversation between the User and Assistant. You decide what action to take "+
			"based on the last response from the Assistant.\n\n"+
			"The entire conversation with the assistant, with the user's original request and all replies, is:\n"+
			"%s\n\n"+
			"The success criteria for this assignment is:\n"+
			"%s\n\n"+
			"And the final response from the Assistant that you are evaluating is:\n"+
			"%s\n\n"+
			"Respond with your feedback, and decide if the success criteria is met by this response. "+
			"Also, decide if more user input is required, either because the assistant has a question, needs clarification, or seems to be stuck and unable to answer without help.\n\n"+
			"The Assistant has access to a tool to write files. If the Assistant says they have written a file, then you can assume they have done so.\n"+
			"Overall you should give the Assistant the benefit of the doubt if they say they've done something. "+
			"But you should reject if you feel that more work should go into this.\n",
		formatConversation(t.messages),
		t.criteria,
		lastResponse,
	)

	if t.feedbackOnWork != "" {
		prompt += fmt.Sprintf(
			"Also, note that in a prior attempt from the Assistant, you provided this feedback: %s\n"+
				"If you're seeing the Assistant repeating the same mistakes, then consider responding that user input is required.",
			t.feedbackOnWork,
		)
	}

	prompt += "\n\nIMPORTANT: Respond with ONLY a single valid JSON object matching the schema:\n" +
		`{"feedback": string, "success_criteria_met": boolean, "user_input_needed": boolean}` + "\n" +
		"Do not include any explanatory text, bullet points, or markdown. Output must be parseable JSON and only the JSON."
	return prompt
}
