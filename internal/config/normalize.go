package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeLibrary(); err != nil {
		return err
	}
	c.normalizeSupply()
	c.normalizePlayback()
	c.normalizeEngine()
	c.normalizeHistory()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeLibrary() error {
	expand := func(section string, values []string) ([]string, error) {
		out := make([]string, 0, len(values))
		seen := make(map[string]struct{}, len(values))
		for _, value := range values {
			trimmed := strings.TrimSpace(value)
			if trimmed == "" {
				continue
			}
			expanded, err := expandPath(trimmed)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", section, err)
			}
			if _, ok := seen[expanded]; ok {
				continue
			}
			seen[expanded] = struct{}{}
			out = append(out, expanded)
		}
		return out, nil
	}

	var err error
	if c.Library.Roots, err = expand("library.roots", c.Library.Roots); err != nil {
		return err
	}
	if c.Library.DisabledRoots, err = expand("library.disabled_roots", c.Library.DisabledRoots); err != nil {
		return err
	}
	return nil
}

func (c *Config) normalizeSupply() {
	if c.Supply.ReadyCapacity <= 0 {
		c.Supply.ReadyCapacity = defaultReadyCapacity
	}
	if c.Supply.PrerollCapacity <= 0 {
		c.Supply.PrerollCapacity = defaultPrerollCapacity
	}
	if c.Supply.DedupCapacity <= 0 {
		c.Supply.DedupCapacity = defaultDedupCapacity
	}
}

func (c *Config) normalizePlayback() {
	c.Playback.Speed = strings.TrimSpace(c.Playback.Speed)
	if c.Playback.Speed == "" {
		c.Playback.Speed = defaultPlaybackSpeed
	}
	if c.Playback.PrecacheBytes < 0 {
		c.Playback.PrecacheBytes = 0
	}
	if c.Playback.PrecacheChunk <= 0 {
		c.Playback.PrecacheChunk = defaultPrecacheChunk
	}
	if c.Playback.ImageDurationSeconds <= 0 {
		c.Playback.ImageDurationSeconds = defaultImageDuration
	}
}

func (c *Config) normalizeEngine() {
	c.Engine.VideoSink = strings.TrimSpace(c.Engine.VideoSink)
	if c.Engine.VideoSink == "" {
		c.Engine.VideoSink = defaultVideoSink
	}
	c.Engine.AudioSink = strings.TrimSpace(c.Engine.AudioSink)
	if c.Engine.AudioSink == "" {
		c.Engine.AudioSink = defaultAudioSink
	}
	if c.Engine.VideoWidth < 0 {
		c.Engine.VideoWidth = 0
	}
	if c.Engine.VideoHeight < 0 {
		c.Engine.VideoHeight = 0
	}
}

func (c *Config) normalizeHistory() {
	if c.History.RetentionDays <= 0 {
		c.History.RetentionDays = defaultHistoryRetention
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = defaultLogRetentionDays
	}
}
