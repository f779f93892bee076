package openai

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"github.com/joseph-ayodele/doc-enricher/internal/common"
	"github.com/joseph-ayodele/doc-enricher/internal/llm"
)

// Config for the OpenAI client.
type Config struct {
	APIKey      string        // if empty, falls back to env OPENAI_API_KEY
	BaseURL     string        // default https://api.openai.com/v1
	Model       string        // e.g., "gpt-4o-mini"
	Temperature float32       // 0..2
	Timeout     time.Duration // http client timeout
	Transport   http.RoundTripper
}

// Client talks to the OpenAI files, assistants and chat APIs. All requests go
// through a recording transport so callers can collect a debug trail.
type Client struct {
	cfg  Config
	http *http.Client
	chat llms.Model
	log  *slog.Logger
}

var _ llm.JobClient = (*Client)(nil)

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, common.NewAppError(common.KindConfig, "openai: api key is required", common.ErrInvalidInput)
	}

	httpClient := llm.NewRecordingClient(cfg.Timeout, cfg.Transport, logger)
	chat, err := lcopenai.New(
		lcopenai.WithToken(cfg.APIKey),
		lcopenai.WithModel(cfg.Model),
		lcopenai.WithBaseURL(cfg.BaseURL),
		lcopenai.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, common.NewAppError(common.KindConfig, "openai: init chat model", err)
	}
	return &Client{
		cfg:  cfg,
		http: httpClient,
		chat: chat,
		log:  logger,
	}, nil
}

func (c *Client) Model() string { return c.cfg.Model }
