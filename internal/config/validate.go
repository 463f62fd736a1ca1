package config

import (
	"errors"
	"fmt"
	"net"

	"medley/internal/media"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateSupply(); err != nil {
		return err
	}
	if err := c.validatePlayback(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind must be host:port: %w", err)
	}
	return nil
}

func (c *Config) validateSupply() error {
	if c.Supply.PrerollCapacity > c.Supply.ReadyCapacity {
		return errors.New("supply.preroll_capacity must not exceed supply.ready_capacity")
	}
	if c.Supply.DedupCapacity < c.Supply.ReadyCapacity {
		return errors.New("supply.dedup_capacity must be at least supply.ready_capacity")
	}
	return nil
}

func (c *Config) validatePlayback() error {
	if _, err := media.ParseSpeed(c.Playback.Speed); err != nil {
		return fmt.Errorf("playback.speed: %w", err)
	}
	if c.Playback.PrecacheBytes > 0 && c.Playback.PrecacheChunk > c.Playback.PrecacheBytes {
		return errors.New("playback.precache_chunk must not exceed playback.precache_bytes")
	}
	return nil
}

func (c *Config) validateEngine() error {
	if (c.Engine.VideoWidth == 0) != (c.Engine.VideoHeight == 0) {
		return errors.New("engine.video_width and engine.video_height must be set together")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
