package sidekick

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/openclaw/sidekick/internal/llm"
)

// Loop states.
type node int

const (
	nodeWorker node = iota
	nodeTools
	nodeEvaluator
	nodeEnd
)

// concurrencyLimit bounds parallel tool execution. Tools are I/O-bound
// (network, browser), so oversubscribe CPUs.
var concurrencyLimit = func() int {
	limit := runtime.NumCPU() * 4
	if limit < 4 {
		limit = 4
	}
	if limit > 32 {
		limit = 32
	}
	return limit
}()

// runLoop drives the state machine from WORKER to END.
func (s *Sidekick) runLoop(ctx context.Context, t *turnState) error {
	state := nodeWorker
	for state != nodeEnd {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch state {
		case nodeWorker:
			if err := s.workerStep(ctx, t); err != nil {
				return err
			}
			if t.messages[len(t.messages)-1].HasToolCalls() {
				state = nodeTools
			} else {
				state = nodeEvaluator
			}

		case nodeTools:
			results := s.dispatchTools(ctx, t.messages[len(t.messages)-1].ToolCalls)
			t.messages = append(t.messages, results...)
			// Re-enter the worker unless it has exhausted its invocation
			// budget in a tools-only cycle; then let the evaluator close
			// the turn instead of invoking the worker an 11th time.
			if t.iterations < maxIterations {
				state = nodeWorker
			} else {
				state = nodeEvaluator
			}

		case nodeEvaluator:
			if err := s.evaluatorStep(ctx, t); err != nil {
				return err
			}
			if t.iterations >= maxIterations || t.criteriaMet || t.userInputNeeded {
				state = nodeEnd
			} else {
				state = nodeWorker
			}
		}
	}
	return nil
}

// workerStep invokes the worker model once. The invocation and the
// iteration increment happen on every entry, regardless of whether the
// system message already existed.
func (s *Sidekick) workerStep(ctx context.Context, t *turnState) error {
	t.messages = ensureSystemMessage(t.messages, s.workerPrompt(t))
	t.iterations++

	start := s.now()
	resp, err := s.worker.Chat(ctx, llm.ChatRequest{
		Messages: t.messages,
		Tools:    s.toolDefs(),
	})
	if err != nil {
		return fmt.Errorf("worker call failed: %w", err)
	}
	s.log.WorkerCall(t.iterations, time.Since(start), len(resp.ToolCalls))

	t.messages = append(t.messages, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
	return nil
}

// ensureSystemMessage guarantees exactly one system message in history,
// overwriting the existing one in place or prepending a new one.
func ensureSystemMessage(messages []llm.Message, content string) []llm.Message {
	for i := range messages {
		if messages[i].Role == llm.RoleSystem {
			messages[i].Content = content
			return messages
		}
	}
	return append([]llm.Message{{Role: llm.RoleSystem, Content: content}}, messages...)
}

// workerPrompt builds the worker's system instruction for this turn.
func (s *Sidekick) workerPrompt(t *turnState) string {
	prompt := fmt.Sprintf(
		"You are a helpful assistant that can use tools to complete tasks.\n"+
			"You keep working on a task until either you have a question or clarification for the user, "+
			"or the success criteria is met.\n"+
			"You have many tools to help you, including tools to browse the internet, navigating and retrieving web pages.\n"+
			"You have a tool to run python code, but note that you would need to include a print() statement "+
			"if you wanted to receive output.\n"+
			"The current date and time is %s\n\n"+
			"This is the success criteria:\n"+
			"%s\n"+
			"You should reply either with a question for the user about this assignment, or with your final response.\n"+
			"If you have a question for the user, you need to reply by clearly stating your question. "+
			"An example might be:\n\n"+
			"Question: please clarify whether you want a summary or a detailed answer\n\n"+
			"If you've finished, reply with the final answer, and don't ask a question; simply reply with the answer.\n",
		s.now().Format("2006-01-02 15:04:05"),
		t.criteria,
	)

	if t.feedbackOnWork != "" {
		prompt += fmt.Sprintf(
			"\nPreviously you thought you completed the assignment, but your reply was rejected "+
				"because the success criteria was not met.\n"+
				"Here is the feedback on why this was rejected:\n"+
				"%s\n"+
				"With this feedback, please continue the assignment, ensuring that you meet the "+
				"success criteria or have a question for the user.",
			t.feedbackOnWork,
		)
	}
	return prompt
}

// toolDefs converts registry definitions to the model-facing shape.
func (s *Sidekick) toolDefs() []llm.ToolDef {
	defs := s.registry.Definitions()
	out := make([]llm.ToolDef, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.ToolDef{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return out
}

// toolResult carries one tool's output back from a worker goroutine.
type toolResult struct {
	index   int
	id      string
	content string
}

// dispatchTools executes a batch of tool calls and returns tool-result
// messages in request order. Failures degrade to error text; the batch
// always completes before control returns to the worker.
func (s *Sidekick) dispatchTools(ctx context.Context, calls []llm.ToolCall) []llm.Message {
	if len(calls) == 0 {
		return nil
	}

	if len(calls) == 1 {
		return []llm.Message{s.runTool(ctx, 0, calls[0]).message()}
	}

	sem := make(chan struct{}, concurrencyLimit)
	results := make(chan toolResult, len(calls))
	var wg sync.WaitGroup

	for i, tc := range calls {
		wg.Add(1)
		go func(i int, tc llm.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results <- s.runTool(ctx, i, tc)
		}(i, tc)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	messages := make([]llm.Message, len(calls))
	for r := range results {
		messages[r.index] = r.message()
	}
	return messages
}

func (r toolResult) message() llm.Message {
	return llm.Message{
		Role:       llm.RoleTool,
		ToolCallID: r.id,
		Content:    r.content,
	}
}

// runTool executes one tool call, converting every failure to error text.
func (s *Sidekick) runTool(ctx context.Context, index int, tc llm.ToolCall) toolResult {
	if s.OnToolCall != nil {
		s.OnToolCall(tc.Name, tc.Args)
	}
	s.log.ToolCall(tc.Name)
	start := s.now()

	tool := s.registry.Get(tc.Name)
	if tool == nil {
		err := fmt.Errorf("tool not found: %s", tc.Name)
		s.log.ToolResult(tc.Name, time.Since(start), err)
		return toolResult{index: index, id: tc.ID, content: fmt.Sprintf("Error: %v", err)}
	}

	result, err := tool.Execute(ctx, tc.Args)
	s.log.ToolResult(tc.Name, time.Since(start), err)
	if err != nil {
		return toolResult{index: index, id: tc.ID, content: fmt.Sprintf("Error: %v", err)}
	}

	var content string
	switch v := result.(type) {
	case string:
		content = v
	default:
		data, _ := json.Marshal(v)
		content = string(data)
	}
	return toolResult{index: index, id: tc.ID, content: content}
}
