// Package calendar provides Google Calendar tools.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/openclaw/sidekick/internal/config"
	"github.com/openclaw/sidekick/internal/tools"
)

// Service wraps the Google Calendar API for one calendar.
type Service struct {
	svc        *gcal.Service
	calendarID string
}

// New builds a Service from OAuth client credentials and a cached token.
// The token file must already exist; obtaining one interactively is the
// user's job (any Google OAuth quickstart flow produces it).
func New(ctx context.Context, cfg config.CalendarConfig) (*Service, error) {
	credBytes, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	oauthCfg, err := google.ConfigFromJSON(credBytes, gcal.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	token, err := tokenFromFile(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read token (run the OAuth flow first): %w", err)
	}

	svc, err := gcal.NewService(ctx, option.WithHTTPClient(oauthCfg.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Service{svc: svc, calendarID: calendarID}, nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, err
	}
	return token, nil
}

// CreateEvent inserts an event and returns a human-readable confirmation.
func (s *Service) CreateEvent(ctx context.Context, summary, description string, start, end time.Time) (string, error) {
	event := &gcal.Event{
		Summary:     summary,
		Description: description,
		Start:       &gcal.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: end.Format(time.RFC3339)},
	}

	created, err := s.svc.Events.Insert(s.calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create event: %w", err)
	}
	return fmt.Sprintf("Created event %q from %s to %s: %s",
		created.Summary,
		start.Format("Mon Jan 2 15:04"),
		end.Format("15:04"),
		created.HtmlLink), nil
}

// ListUpcomingEvents returns a human-readable listing of the next events.
func (s *Service) ListUpcomingEvents(ctx context.Context, max int64) (string, error) {
	if max <= 0 {
		max = 10
	}

	events, err := s.svc.Events.List(s.calendarID).
		TimeMin(time.Now().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(max).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to list events: %w", err)
	}

	if len(events.Items) == 0 {
		return "No upcoming events found.", nil
	}

	var sb strings.Builder
	for _, item := range events.Items {
		when := item.Start.DateTime
		if when == "" {
			when = item.Start.Date
		}
		fmt.Fprintf(&sb, "%s - %s\n", when, item.Summary)
	}
	return strings.TrimSpace(sb.String()), nil
}

// RegisterTools adds the calendar tools to the registry.
func (s *Service) RegisterTools(r *tools.Registry) {
	r.Register(&createEventTool{svc: s})
	r.Register(&listEventsTool{svc: s})
}

type createEventTool struct {
	svc *Service
}

func (t *createEventTool) Name() string { return "create_calendar_event" }

func (t *createEventTool) Description() string {
	return "Create an event on the user's Google Calendar. Times are RFC3339, e.g. 2026-09-01T14:00:00Z."
}

func (t *createEventTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"summary": map[string]interface{}{
				"type":        "string",
				"description": "Event title",
			},
			"description": map[string]interface{}{
				"type":        "string",
				"description": "Optional event details",
			},
			"start": map[string]interface{}{
				"type":        "string",
				"description": "Start time (RFC3339)",
			},
			"end": map[string]interface{}{
				"type":        "string",
				"description": "End time (RFC3339)",
			},
		},
		"required": []string{"summary", "start", "end"},
	}
}

func (t *createEventTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	summary, ok := args["summary"].(string)
	if !ok {
		return nil, fmt.Errorf("summary is required")
	}
	description, _ := args["description"].(string)

	start, err := parseTimeArg(args, "start")
	if err != nil {
		return nil, err
	}
	end, err := parseTimeArg(args, "end")
	if err != nil {
		return nil, err
	}

	return t.svc.CreateEvent(ctx, summary, description, start, end)
}

func parseTimeArg(args map[string]interface{}, key string) (time.Time, error) {
	raw, ok := args[key].(string)
	if !ok {
		return time.Time{}, fmt.Errorf("%s is required", key)
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC3339: %w", key, err)
	}
	return ts, nil
}

type listEventsTool struct {
	svc *Service
}

func (t *listEventsTool) Name() string { return "list_upcoming_events" }

func (t *listEventsTool) Description() string {
	return "List upcoming events on the user's Google Calendar."
}

func (t *listEventsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"max_results": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of events to return (default 10)",
			},
		},
	}
}

func (t *listEventsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	var max int64 = 10
	if m, ok := args["max_results"].(float64); ok && m > 0 {
		max = int64(m)
	}
	return t.svc.ListUpcomingEvents(ctx, max)
}
