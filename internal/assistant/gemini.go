package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	errNoCandidates = errors.New("response contained no candidates")
	errEmptyContent = errors.New("candidate contained no text parts")
)

// systemInstruction steers the model toward the payload contract the
// clients understand: a JSON object with a markdown "text" field and an
// optional "fileTree" mapping paths to file contents.
const systemInstruction = `You are a senior developer collaborating in a shared project chat.
Always respond with a single JSON object of the shape
{"text": "<markdown answer>", "fileTree": {"<path>": "<file content>"}}.
Include "fileTree" only when the user asks you to create or modify files.
Use full relative paths as keys (for example "src/app.js"). Keep "text"
concise and in markdown.`

// Client calls a Gemini-style generateContent endpoint over HTTPS.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     string
	logger     *slog.Logger
}

// ClientConfig holds configuration for the HTTP client.
type ClientConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		Model:   "gemini-1.5-flash",
		Timeout: 60 * time.Second,
	}
}

// NewClient creates a client for the configured model endpoint.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, errors.New("assistant: API key is required")
	}
	def := DefaultClientConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		logger:     logger,
	}, nil
}

type generatePart struct {
	Text string `json:"text"`
}

type generateContent struct {
	Role  string         `json:"role,omitempty"`
	Parts []generatePart `json:"parts"`
}

type generationConfig struct {
	ResponseMIMEType string `json:"responseMimeType,omitempty"`
}

type generateRequest struct {
	SystemInstruction *generateContent  `json:"systemInstruction,omitempty"`
	Contents          []generateContent `json:"contents"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content generateContent `json:"content"`
	} `json:"candidates"`
}

// Generate sends the prompt to the model and parses the reply once at
// this boundary.
func (c *Client) Generate(ctx context.Context, prompt string) (*Reply, error) {
	body, err := json.Marshal(generateRequest{
		SystemInstruction: &generateContent{
			Parts: []generatePart{{Text: systemInstruction}},
		},
		Contents: []generateContent{
			{Role: "user", Parts: []generatePart{{Text: prompt}}},
		},
		GenerationConfig: &generationConfig{ResponseMIMEType: "application/json"},
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.baseURL, c.model, url.QueryEscape(c.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call model endpoint: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model endpoint returned %d: %s", resp.StatusCode, truncate(string(data), 256))
	}

	var decoded generateResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Candidates) == 0 {
		return nil, errNoCandidates
	}

	var text strings.Builder
	for _, part := range decoded.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return nil, errEmptyContent
	}

	c.logger.Debug("assistant reply received", "model", c.model, "duration", time.Since(start))
	return ParseReply(text.String()), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Ensure Client implements Gateway.
var _ Gateway = (*Client)(nil)
