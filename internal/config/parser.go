package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Parse decodes JSONC content over base, normalizes it, and validates the result. Keys absent
// from content keep their base values; unknown keys are rejected.
func Parse(content string, base Config) (Config, []Warning, error) {
	cfg := base
	if strings.TrimSpace(content) != "" {
		normalized, err := normalizeJSONC(content)
		if err != nil {
			return Config{}, nil, err
		}

		decoder := json.NewDecoder(strings.NewReader(normalized))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, nil, wrapJSONDecodeError(normalized, err)
		}
		if err := ensureSingleJSONValue(decoder); err != nil {
			return Config{}, nil, wrapJSONDecodeError(normalized, err)
		}
	}

	cfg = normalize(cfg)
	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

// normalize trims string fields and lower-cases backend selectors.
func normalize(cfg Config) Config {
	lower := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

	cfg.Wake.Backend = lower(cfg.Wake.Backend)
	cfg.Wake.Words = trimList(cfg.Wake.Words, true)
	cfg.Audio.Backend = lower(cfg.Audio.Backend)
	cfg.Audio.Input = strings.TrimSpace(cfg.Audio.Input)
	cfg.Audio.Fallback = strings.TrimSpace(cfg.Audio.Fallback)
	cfg.Audio.Dir = strings.TrimSpace(cfg.Audio.Dir)
	cfg.Storage.Driver = lower(cfg.Storage.Driver)
	cfg.Storage.DSN = strings.TrimSpace(cfg.Storage.DSN)
	cfg.Speech.Backend = lower(cfg.Speech.Backend)
	cfg.Speech.LanguageCode = strings.TrimSpace(cfg.Speech.LanguageCode)
	cfg.Speech.Model = strings.TrimSpace(cfg.Speech.Model)
	cfg.Speech.Phrases = trimList(cfg.Speech.Phrases, false)
	cfg.Speech.Google.Endpoint = strings.TrimSpace(cfg.Speech.Google.Endpoint)
	cfg.Speech.Deepgram.URL = strings.TrimSpace(cfg.Speech.Deepgram.URL)
	cfg.Log.Level = lower(cfg.Log.Level)

	family := make([]FamilyMember, 0, len(cfg.Family))
	for _, m := range cfg.Family {
		m.Name = strings.ToUpper(strings.TrimSpace(m.Name))
		family = append(family, m)
	}
	if cfg.Family != nil {
		cfg.Family = family
	}
	return cfg
}

func trimList(in []string, lower bool) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if lower {
			s = strings.ToLower(s)
		}
		out = append(out, s)
	}
	return out
}

// normalizeJSONC blanks out comments and drops trailing commas. Byte offsets are preserved for
// everything except removed commas, so decode errors still point at the right line.
func normalizeJSONC(content string) (string, error) {
	stripped, err := stripComments(content)
	if err != nil {
		return "", err
	}
	return dropTrailingCommas(stripped), nil
}

func stripComments(content string) (string, error) {
	out := []byte(content)
	inString, escaped := false, false

	for i := 0; i < len(out); i++ {
		ch := out[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		if ch == '"' {
			inString = true
			continue
		}
		if ch != '/' || i+1 >= len(out) {
			continue
		}

		switch out[i+1] {
		case '/':
			for ; i < len(out) && out[i] != '\n' && out[i] != '\r'; i++ {
				out[i] = ' '
			}
		case '*':
			end := bytes.Index(out[i+2:], []byte("*/"))
			if end < 0 {
				return "", errors.New("unterminated block comment in JSONC")
			}
			stop := i + 2 + end + 2
			for ; i < stop; i++ {
				if out[i] != '\n' && out[i] != '\r' && out[i] != '\t' {
					out[i] = ' '
				}
			}
			i--
		}
	}
	return string(out), nil
}

func dropTrailingCommas(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	inString, escaped := false, false

	for i := 0; i < len(content); i++ {
		ch := content[i]
		if inString {
			b.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		if ch == '"' {
			inString = true
		}
		if ch == ',' {
			next := strings.TrimLeft(content[i+1:], " \t\r\n")
			if next != "" && (next[0] == '}' || next[0] == ']') {
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return errors.New("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}
	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	limit := min(max(int(offset), 1), len(content))
	line, col := 1, 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
