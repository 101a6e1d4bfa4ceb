// Package browser provides web browsing tools backed by a shared
// Playwright browser instance.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/openclaw/sidekick/internal/logging"
	"github.com/openclaw/sidekick/internal/tools"
)

// Toolkit owns one browser instance shared by all browsing tools.
// Release is safe to call any number of times.
type Toolkit struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page

	releaseOnce sync.Once
	log         *logging.Logger
}

// New launches a Chromium instance and returns the toolkit.
func New(headless bool, log *logging.Logger) (*Toolkit, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	page, err := browser.NewPage()
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	return &Toolkit{
		pw:      pw,
		browser: browser,
		page:    page,
		log:     log.WithComponent("browser"),
	}, nil
}

// RegisterTools adds the browsing tools to the registry.
func (k *Toolkit) RegisterTools(r *tools.Registry) {
	r.Register(&navigateTool{kit: k})
	r.Register(&extractTextTool{kit: k})
	r.Register(&extractLinksTool{kit: k})
	r.Register(&clickTool{kit: k})
	r.Register(&currentPageTool{kit: k})
}

// Release closes the page, browser, and playwright driver. Errors are
// logged, never returned; repeated calls are no-ops.
func (k *Toolkit) Release() {
	k.releaseOnce.Do(func() {
		if k.page != nil {
			if err := k.page.Close(); err != nil {
				k.log.CleanupError("page", err)
			}
		}
		if k.browser != nil {
			if err := k.browser.Close(); err != nil {
				k.log.CleanupError("browser", err)
			}
		}
		if k.pw != nil {
			if err := k.pw.Stop(); err != nil {
				k.log.CleanupError("playwright", err)
			}
		}
	})
}

type navigateTool struct {
	kit *Toolkit
}

func (t *navigateTool) Name() string { return "navigate_browser" }

func (t *navigateTool) Description() string {
	return "Navigate the browser to a URL."
}

func (t *navigateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL to navigate to",
			},
		},
		"required": []string{"url"},
	}
}

func (t *navigateTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	url, ok := args["url"].(string)
	if !ok {
		return nil, fmt.Errorf("url is required")
	}

	resp, err := t.kit.page.Goto(url)
	if err != nil {
		return nil, fmt.Errorf("navigation failed: %w", err)
	}
	status := 0
	if resp != nil {
		status = resp.Status()
	}
	return fmt.Sprintf("Navigated to %s (status %d)", url, status), nil
}

type extractTextTool struct {
	kit *Toolkit
}

func (t *extractTextTool) Name() string { return "extract_text" }

func (t *extractTextTool) Description() string {
	return "Extract the visible text of the current page."
}

func (t *extractTextTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *extractTextTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	text, err := t.kit.page.InnerText("body")
	if err != nil {
		return nil, fmt.Errorf("failed to extract text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

type extractLinksTool struct {
	kit *Toolkit
}

func (t *extractLinksTool) Name() string { return "extract_hyperlinks" }

func (t *extractLinksTool) Description() string {
	return "Extract all hyperlinks from the current page."
}

func (t *extractLinksTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

// Link is a hyperlink found on the current page.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

func (t *extractLinksTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	anchors, err := t.kit.page.QuerySelectorAll("a[href]")
	if err != nil {
		return nil, fmt.Errorf("failed to extract links: %w", err)
	}

	var links []Link
	for _, a := range anchors {
		href, err := a.GetAttribute("href")
		if err != nil || href == "" {
			continue
		}
		text, _ := a.TextContent()
		links = append(links, Link{
			Text: strings.TrimSpace(text),
			Href: href,
		})
	}
	return links, nil
}

type clickTool struct {
	kit *Toolkit
}

func (t *clickTool) Name() string { return "click_element" }

func (t *clickTool) Description() string {
	return "Click an element on the current page identified by a CSS selector."
}

func (t *clickTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"selector": map[string]interface{}{
				"type":        "string",
				"description": "CSS selector of the element to click",
			},
		},
		"required": []string{"selector"},
	}
}

func (t *clickTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	selector, ok := args["selector"].(string)
	if !ok {
		return nil, fmt.Errorf("selector is required")
	}

	if err := t.kit.page.Click(selector); err != nil {
		return nil, fmt.Errorf("click failed: %w", err)
	}
	return fmt.Sprintf("Clicked element %s", selector), nil
}

type currentPageTool struct {
	kit *Toolkit
}

func (t *currentPageTool) Name() string { return "current_webpage" }

func (t *currentPageTool) Description() string {
	return "Return the URL of the page the browser is currently on."
}

func (t *currentPageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *currentPageTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return t.kit.page.URL(), nil
}
