package config

const (
	defaultDataDir          = "~/.local/share/medley"
	defaultLogDir           = "~/.local/share/medley/logs"
	defaultAPIBind          = "127.0.0.1:7787"
	defaultReadyCapacity    = 20
	defaultPrerollCapacity  = 10
	defaultDedupCapacity    = 1000
	defaultPlaybackSpeed    = "1x"
	defaultPrecacheBytes    = 8 << 20
	defaultPrecacheChunk    = 1 << 20
	defaultImageDuration    = 10
	defaultVideoSink        = "autovideosink"
	defaultAudioSink        = "autoaudiosink"
	defaultHistoryRetention = 90
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 14
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Supply: Supply{
			ReadyCapacity:   defaultReadyCapacity,
			PrerollCapacity: defaultPrerollCapacity,
			DedupCapacity:   defaultDedupCapacity,
		},
		Playback: Playback{
			Autoplay:             false,
			Speed:                defaultPlaybackSpeed,
			PrecacheBytes:        defaultPrecacheBytes,
			PrecacheChunk:        defaultPrecacheChunk,
			ImageDurationSeconds: defaultImageDuration,
		},
		Engine: Engine{
			VideoSink: defaultVideoSink,
			AudioSink: defaultAudioSink,
		},
		History: History{
			Enabled:       true,
			RetentionDays: defaultHistoryRetention,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
