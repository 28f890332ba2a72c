package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Wake: WakeConfig{
			Backend:         "stdin",
			Words:           []string{"muninn", "munin"},
			IntervalMS:      0,
			ListenTimeoutMS: 10000,
		},
		Audio: AudioConfig{
			Backend:         "pulse",
			Input:           "default",
			Fallback:        "default",
			Dir:             "~/.local/share/muninn/messages",
			SampleRate:      16000,
			EnergyThreshold: 300,
			SilenceMS:       3000,
			MaxRecordingSec: 300,
			RetentionDays:   365,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "~/.local/share/muninn/messages.db",
		},
		Speech: SpeechConfig{
			Backend:      "none",
			LanguageCode: "en-US",
			TimeoutMS:    30000,
		},
		Playback: PlaybackConfig{
			Volume:     0.7,
			Limit:      5,
			RecentDays: 7,
		},
		LED: LEDConfig{
			Count:       60,
			CycleStepMS: 2000,
			Cues:        true,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}
