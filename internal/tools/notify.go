package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// pushTool sends a push notification to the user's phone through ntfy.
type pushTool struct {
	server string
	topic  string
	client *http.Client
}

func (t *pushTool) Name() string { return "send_push_notification" }

func (t *pushTool) Description() string {
	return "Send a push notification to the user's phone. Use for brief alerts the user asked to be notified about."
}

func (t *pushTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Short notification text",
			},
		},
		"required": []string{"message"},
	}
}

func (t *pushTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	message, ok := args["message"].(string)
	if !ok {
		return nil, fmt.Errorf("message is required")
	}
	if t.topic == "" {
		return nil, fmt.Errorf("no notification topic configured; set tools.ntfy_topic")
	}

	url := strings.TrimRight(t.server, "/") + "/" + t.topic
	req, err := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(message))
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notification failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("notification error (%d): %s", resp.StatusCode, string(body))
	}
	return "success", nil
}
