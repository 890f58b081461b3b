package orchestrator

import (
	"fmt"

	"github.com/shaiso/Durable/internal/engine"
)

// Config — конфигурация orchestration приложения.
type Config struct {
	Count    int      // число раундов fan-out, 0 допустим (config.Load ставит DefaultCount)
	Channels []string // каналы доставки (default: line, facebook)
}

// Register регистрирует Messaging и sub-orchestration всех каналов.
func Register(reg *engine.Registry, cfg Config) error {
	count := cfg.Count
	if count < 0 {
		return fmt.Errorf("%w: count must be >= 0, got %d", ErrInvalidConfig, count)
	}

	channels := cfg.Channels
	if len(channels) == 0 {
		channels = DefaultChannels
	}

	seen := make(map[string]bool, len(channels))
	for _, ch := range channels {
		if ch == "" {
			return fmt.Errorf("%w: empty channel name", ErrInvalidConfig)
		}
		if seen[ch] {
			return fmt.Errorf("%w: duplicate channel %s", ErrInvalidConfig, ch)
		}
		seen[ch] = true
	}

	if err := reg.Register(NewMessaging(count, channels)); err != nil {
		return err
	}
	for _, ch := range channels {
		if err := reg.Register(NewChannel(ch)); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry создаёт реестр со всеми orchestration приложения.
func NewRegistry(cfg Config) (*engine.Registry, error) {
	reg := engine.NewRegistry()
	if err := Register(reg, cfg); err != nil {
		return nil, err
	}
	return reg, nil
}
