package config

import (
	"fmt"
)

// Validate performs business-rule validation on the loaded configuration.
// It must be called after loading; Load calls it automatically.
func (c *Config) Validate() error {
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("database.max_conns must be >= 1 (got %d)", c.Database.MaxConns)
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns (%d) exceeds max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	if c.Tasks.Workers < 1 {
		return fmt.Errorf("tasks.workers must be >= 1 (got %d)", c.Tasks.Workers)
	}
	if c.Tasks.QueueSize < 1 {
		return fmt.Errorf("tasks.queue_size must be >= 1 (got %d)", c.Tasks.QueueSize)
	}

	if c.Notify.Window <= 0 {
		return fmt.Errorf("notify.window must be positive (got %v)", c.Notify.Window)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error (got %q)", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text (got %q)", c.Log.Format)
	}

	return nil
}
