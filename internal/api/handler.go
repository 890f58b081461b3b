package api

import (
	"log/slog"

	"github.com/shaiso/Durable/internal/client"
	"github.com/shaiso/Durable/internal/orchestrator"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	client      *client.Client
	defaultName string
	baseURL     string
	logger      *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Client *client.Client

	// DefaultOrchestration — что запускает /api/v1/run (default: messaging).
	DefaultOrchestration string

	// BaseURL — префикс URI в check-status ответе. Пусто — из запроса.
	BaseURL string

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	name := cfg.DefaultOrchestration
	if name == "" {
		name = orchestrator.NameMessaging
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		client:      cfg.Client,
		defaultName: name,
		baseURL:     cfg.BaseURL,
		logger:      logger,
	}
}
