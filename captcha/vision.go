package captcha

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

const systemPrompt = `You are a captcha reader. Read the alphanumeric text in captcha images. ` +
	`Return JSON with format: {"captcha": "THE_TEXT_HERE"}. Only include uppercase letters and numbers.`

// VisionConfig configures the vision-endpoint solver.
type VisionConfig struct {
	// Endpoint is the service base URL, e.g.
	// "https://example.cognitiveservices.azure.com".
	Endpoint string

	// Deployment is the model deployment name.
	Deployment string

	// APIVersion is the api-version query parameter.
	APIVersion string

	// Key is the subscription key sent in the api-key header.
	Key string

	// Timeout bounds one solve call. Default: 30s.
	Timeout time.Duration

	Logger *slog.Logger
}

func (c *VisionConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// VisionSolver solves CAPTCHAs by sending the image to a vision
// chat-completions endpoint in JSON-output mode.
type VisionSolver struct {
	cfg    VisionConfig
	client *resty.Client
}

// NewVisionSolver creates a VisionSolver. Endpoint, deployment and key
// are required.
func NewVisionSolver(cfg VisionConfig) (*VisionSolver, error) {
	if cfg.Endpoint == "" || cfg.Deployment == "" || cfg.Key == "" {
		return nil, fmt.Errorf("captcha: endpoint, deployment and key are required")
	}
	cfg.defaults()

	client := resty.New()
	client.SetBaseURL(cfg.Endpoint)
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("api-key", cfg.Key)
	client.SetHeader("Content-Type", "application/json")

	return &VisionSolver{cfg: cfg, client: client}, nil
}

type chatRequest struct {
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
	MaxTokens      int            `json:"max_tokens"`
	Temperature    float64        `json:"temperature"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Solve sends the image to the vision endpoint and returns the cleaned
// transcription. A transcription the endpoint could not produce (or
// that cleans to fewer than MinLength characters) comes back empty with
// a nil error; transport and HTTP failures come back as errors.
func (s *VisionSolver) Solve(ctx context.Context, image []byte) (string, error) {
	b64 := base64.StdEncoding.EncodeToString(image)

	req := chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: "Read the text in this captcha image. Return only the captcha text in JSON format."},
				{Type: "image_url", ImageURL: &imageURL{URL: "data:image/png;base64," + b64}},
			}},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
		MaxTokens:      100,
		Temperature:    0.1,
	}

	var out chatResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("api-version", s.cfg.APIVersion).
		SetBody(req).
		SetResult(&out).
		Post(fmt.Sprintf("/openai/deployments/%s/chat/completions", s.cfg.Deployment))
	if err != nil {
		return "", fmt.Errorf("captcha: solve request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("captcha: solve endpoint returned %s", resp.Status())
	}
	if len(out.Choices) == 0 {
		s.cfg.Logger.Warn("captcha: empty choices from solver")
		return "", nil
	}

	var parsed struct {
		Captcha string `json:"captcha"`
	}
	if err := json.Unmarshal([]byte(out.Choices[0].Message.Content), &parsed); err != nil {
		s.cfg.Logger.Warn("captcha: non-JSON solver output",
			"content", out.Choices[0].Message.Content)
		return "", nil
	}

	return Clean(parsed.Captcha), nil
}
