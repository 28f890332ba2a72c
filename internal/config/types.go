// Package config resolves, parses, validates, and defaults muninn configuration.
package config

import "time"

// Config is the fully materialized runtime configuration. JSON names match the config file.
type Config struct {
	Wake     WakeConfig     `json:"wake"`
	Audio    AudioConfig    `json:"audio"`
	Storage  StorageConfig  `json:"storage"`
	Speech   SpeechConfig   `json:"speech"`
	Playback PlaybackConfig `json:"playback"`
	LED      LEDConfig      `json:"led"`
	Family   []FamilyMember `json:"family" validate:"dive"`
	IPC      IPCConfig      `json:"ipc"`
	Log      LogConfig      `json:"log"`
	Debug    DebugConfig    `json:"debug"`
}

// WakeConfig selects the wake-word backend and listening behavior.
type WakeConfig struct {
	Backend         string   `json:"backend" validate:"oneof=stdin interval none"`
	Words           []string `json:"words" validate:"dive,required"`
	IntervalMS      int      `json:"interval_ms" validate:"gte=0"`
	ListenTimeoutMS int      `json:"listen_timeout_ms" validate:"gt=0"`
	// VoiceCommands transcribes what is said after the wake word and runs it as a command.
	VoiceCommands bool `json:"voice_commands"`
}

// AudioConfig controls capture, silence detection, and where recordings live.
type AudioConfig struct {
	Backend         string  `json:"backend" validate:"oneof=pulse mock"`
	Input           string  `json:"input"`
	Fallback        string  `json:"fallback"`
	Dir             string  `json:"dir" validate:"required"`
	SampleRate      int     `json:"sample_rate" validate:"oneof=8000 16000 22050 44100 48000"`
	EnergyThreshold float64 `json:"energy_threshold" validate:"gt=0"`
	SilenceMS       int     `json:"silence_ms" validate:"gt=0"`
	MaxRecordingSec int     `json:"max_recording_sec" validate:"gte=0"`
	RetentionDays   int     `json:"retention_days" validate:"gte=0"`
}

// StorageConfig selects the message database.
type StorageConfig struct {
	Driver string `json:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `json:"dsn" validate:"required"`
}

// SpeechConfig selects the transcription backend.
type SpeechConfig struct {
	Backend      string         `json:"backend" validate:"oneof=google deepgram mock none"`
	LanguageCode string         `json:"language_code" validate:"required"`
	Model        string         `json:"model"`
	TimeoutMS    int            `json:"timeout_ms" validate:"gt=0"`
	Phrases      []string       `json:"phrases"`
	Google       GoogleConfig   `json:"google"`
	Deepgram     DeepgramConfig `json:"deepgram"`
}

// GoogleConfig tunes the Cloud Speech backend.
type GoogleConfig struct {
	Endpoint        string `json:"endpoint"`
	Insecure        bool   `json:"insecure"`
	CredentialsFile string `json:"credentials_file"`
	APIKey          string `json:"api_key"`
}

// DeepgramConfig tunes the Deepgram REST backend.
type DeepgramConfig struct {
	URL    string `json:"url" validate:"omitempty,url"`
	APIKey string `json:"api_key"`
}

// PlaybackConfig tunes message playback.
type PlaybackConfig struct {
	Volume     float64 `json:"volume" validate:"gte=0,lte=1"`
	Limit      int     `json:"limit" validate:"gt=0,lte=50"`
	RecentDays int     `json:"recent_days" validate:"gt=0"`
}

// LEDConfig sizes the strip and tunes animations and audio cues.
type LEDConfig struct {
	Count       int       `json:"count" validate:"gt=0,lte=1024"`
	CycleStepMS int       `json:"cycle_step_ms" validate:"gt=0"`
	Cues        bool      `json:"cues"`
	CueFiles    CueConfig `json:"cue_files"`
}

// CueConfig optionally replaces built-in cue tones with WAV files.
type CueConfig struct {
	Listening string `json:"listening"`
	Recording string `json:"recording"`
	Saved     string `json:"saved"`
	Cancel    string `json:"cancel"`
}

// FamilyMember is one household member and the half-open pixel span that represents them.
type FamilyMember struct {
	Name     string `json:"name" validate:"required"`
	LEDStart int    `json:"led_start" validate:"gte=0"`
	LEDEnd   int    `json:"led_end" validate:"gtfield=LEDStart"`
}

// IPCConfig locates the control socket. An empty Socket uses $XDG_RUNTIME_DIR/muninn.sock.
type IPCConfig struct {
	Socket string `json:"socket"`
}

// LogConfig controls the rotated JSONL log.
type LogConfig struct {
	Level      string `json:"level" validate:"oneof=debug info warn error"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb" validate:"gt=0"`
	MaxBackups int    `json:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `json:"max_age_days" validate:"gte=0"`
	Stderr     bool   `json:"stderr"`
}

// DebugConfig controls optional debug output.
type DebugConfig struct {
	// ResponseDump appends raw recognizer responses to a JSONL file next to the log.
	ResponseDump bool `json:"response_dump"`
	SQL          bool `json:"sql"`
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

// MemberNames returns the configured member names in file order.
func (c Config) MemberNames() []string {
	names := make([]string, 0, len(c.Family))
	for _, m := range c.Family {
		names = append(names, m.Name)
	}
	return names
}

func (c WakeConfig) ListenTimeout() time.Duration {
	return time.Duration(c.ListenTimeoutMS) * time.Millisecond
}

func (c WakeConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

func (c AudioConfig) Silence() time.Duration {
	return time.Duration(c.SilenceMS) * time.Millisecond
}

func (c AudioConfig) MaxRecording() time.Duration {
	return time.Duration(c.MaxRecordingSec) * time.Second
}

func (c AudioConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func (c SpeechConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c LEDConfig) CycleStep() time.Duration {
	return time.Duration(c.CycleStepMS) * time.Millisecond
}
