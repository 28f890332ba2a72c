package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	structRules  *validator.Validate
)

// rules returns the shared validator. Field errors are reported by their JSON path.
func rules() *validator.Validate {
	validateOnce.Do(func() {
		structRules = validator.New(validator.WithRequiredStructEnabled())
		structRules.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return structRules
}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	if err := rules().Struct(cfg); err != nil {
		return nil, describeValidation(err)
	}

	warnings := make([]Warning, 0)

	seen := make(map[string]bool, len(cfg.Family))
	for _, m := range cfg.Family {
		key := strings.ToUpper(strings.TrimSpace(m.Name))
		if seen[key] {
			return nil, fmt.Errorf("family member %q is listed twice", m.Name)
		}
		seen[key] = true
		if m.LEDEnd > cfg.LED.Count {
			return nil, fmt.Errorf("family member %q led_end %d exceeds led.count %d", m.Name, m.LEDEnd, cfg.LED.Count)
		}
	}
	for i, a := range cfg.Family {
		for _, b := range cfg.Family[i+1:] {
			if a.LEDStart < b.LEDEnd && b.LEDStart < a.LEDEnd {
				warnings = append(warnings, Warning{Message: fmt.Sprintf("family members %q and %q share LEDs", a.Name, b.Name)})
			}
		}
	}
	if len(cfg.Family) == 0 {
		warnings = append(warnings, Warning{Message: "no family members configured; any spoken name is accepted"})
	}

	switch cfg.Speech.Backend {
	case "deepgram":
		if strings.TrimSpace(cfg.Speech.Deepgram.APIKey) == "" {
			return nil, errors.New("speech.deepgram.api_key must not be empty when speech.backend=deepgram")
		}
	case "google":
		g := cfg.Speech.Google
		if g.Insecure && g.Endpoint == "" {
			return nil, errors.New("speech.google.endpoint must be set when speech.google.insecure=true")
		}
		if !g.Insecure && g.CredentialsFile == "" && g.APIKey == "" {
			warnings = append(warnings, Warning{Message: "speech.google has no credentials_file or api_key; using application default credentials"})
		}
	}

	if cfg.Storage.Driver == "postgres" && !strings.Contains(cfg.Storage.DSN, "=") && !strings.Contains(cfg.Storage.DSN, "://") {
		return nil, errors.New("storage.dsn must be a postgres connection string when storage.driver=postgres")
	}
	if cfg.Wake.VoiceCommands && cfg.Speech.Backend == "none" {
		warnings = append(warnings, Warning{Message: "wake.voice_commands needs a speech backend; voice commands will not be understood"})
	}

	return warnings, nil
}

// describeValidation reports the first failing rule in config-file terms.
func describeValidation(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	fe := fieldErrs[0]
	path := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s must not be empty", path)
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", path, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Errorf("%s must be > %s", path, fe.Param())
	case "gte":
		return fmt.Errorf("%s must be >= %s", path, fe.Param())
	case "lte":
		return fmt.Errorf("%s must be <= %s", path, fe.Param())
	case "gtfield":
		return fmt.Errorf("%s must be greater than led_start", path)
	case "url":
		return fmt.Errorf("%s must be a URL", path)
	default:
		return fmt.Errorf("%s failed %q validation", path, fe.Tag())
	}
}
