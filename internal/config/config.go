// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package config assembles the conversion settings from layered sources.
// Highest precedence first: command-line flags, DOCCONVERT_* environment
// variables, the YAML config file, the MINERU_* keys of config/.env (a
// MINERU_* process variable beats the file), the .secrets/ directory, and
// built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/pdiddy/docconvert/internal/failure"
	"github.com/pdiddy/docconvert/internal/secrets"
	"github.com/pdiddy/docconvert/pkg/types"
)

// Defaults.
const (
	DefaultBaseURL     = "https://mineru.net/api/v4"
	DefaultLanguage    = "ch"
	DefaultPollMax     = 60
	DefaultPollSleep   = 10 * time.Second
	DefaultLogLevel    = "low"
	DefaultArchiveDir  = "archive"
	DefaultOutputExt   = "md"
	DefaultMaxPages    = 600
	DefaultMaxFileMB   = 200
	DefaultHTTPTimeout = 5 * time.Minute
	DefaultEnvFile     = "config/.env"
	DefaultUserAgent   = "docconvert/0.1"
)

// DefaultAllowedExts are the extensions the service accepts.
var DefaultAllowedExts = []string{"pdf", "doc", "docx", "ppt", "pptx", "png", "jpg", "jpeg"}

// Keys of the config/.env file.
const (
	EnvAPIBase       = "MINERU_API_BASE"
	EnvAPIToken      = "MINERU_API_TOKEN"
	EnvUserToken     = "MINERU_USER_TOKEN"
	EnvEnableOCR     = "MINERU_ENABLE_OCR"
	EnvEnableTable   = "MINERU_ENABLE_TABLE"
	EnvEnableFormula = "MINERU_ENABLE_FORMULA"
	EnvLanguage      = "MINERU_LANGUAGE_CODE"
	EnvAllowedExts   = "MINERU_ALLOWED_EXTS"
	EnvPollMax       = "MINERU_POLL_MAX"
	EnvPollSleep     = "MINERU_POLL_SLEEP"
	EnvLogLevel      = "MINERU_LOG_LEVEL"
)

// Viper keys. The YAML file and DOCCONVERT_* variables use the same names
// (api.token is DOCCONVERT_API_TOKEN).
const (
	KeyBaseURL     = "api.base_url"
	KeyToken       = "api.token"
	KeyUserToken   = "api.user_token"
	KeyHTTPTimeout = "api.timeout"
	KeyOCR         = "features.ocr"
	KeyTable       = "features.table"
	KeyFormula     = "features.formula"
	KeyLanguage    = "language"
	KeyAllowedExts = "limits.allowed_exts"
	KeyMaxFileMB   = "limits.max_file_mb"
	KeyMaxPages    = "limits.max_pages"
	KeyPollMax     = "poll.max_attempts"
	KeyPollSleep   = "poll.interval"
	KeyLogLevel    = "log_level"
	KeyArchiveDir  = "archive_dir"
	KeyWorkDir     = "work_dir"
	KeyOutputExt   = "output_ext"
	KeyFrontmatter = "frontmatter"
)

// Sources names the lower layers Load reads.
type Sources struct {
	EnvFile    string
	SecretsDir string
}

// DefaultSources returns the conventional file locations.
func DefaultSources() Sources {
	return Sources{EnvFile: DefaultEnvFile, SecretsDir: secrets.DefaultDir}
}

// Bind configures v to read DOCCONVERT_* environment variables.
func Bind(v *viper.Viper) {
	v.SetEnvPrefix("DOCCONVERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load installs built-in defaults, .secrets/ and .env values as viper's
// default layer, then reads the effective configuration from v. It does not
// validate credentials; see Validate.
func Load(v *viper.Viper, src Sources, log logrus.FieldLogger) (types.ConversionConfig, error) {
	setDefaults(v)

	if src.SecretsDir != "" {
		s, err := secrets.Load(src.SecretsDir, log)
		if err != nil {
			return types.ConversionConfig{}, err
		}
		if tok := s[secrets.APIToken]; tok != "" {
			v.SetDefault(KeyToken, tok)
		}
		if tok := s[secrets.UserToken]; tok != "" {
			v.SetDefault(KeyUserToken, tok)
		}
	}

	if src.EnvFile != "" {
		env, err := readEnvFile(src.EnvFile)
		if err != nil {
			return types.ConversionConfig{}, err
		}
		applyEnv(v, env)
	}

	return build(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyBaseURL, DefaultBaseURL)
	v.SetDefault(KeyHTTPTimeout, DefaultHTTPTimeout.String())
	v.SetDefault(KeyOCR, false)
	v.SetDefault(KeyTable, false)
	v.SetDefault(KeyFormula, false)
	v.SetDefault(KeyLanguage, DefaultLanguage)
	v.SetDefault(KeyAllowedExts, DefaultAllowedExts)
	v.SetDefault(KeyMaxFileMB, DefaultMaxFileMB)
	v.SetDefault(KeyMaxPages, DefaultMaxPages)
	v.SetDefault(KeyPollMax, DefaultPollMax)
	v.SetDefault(KeyPollSleep, DefaultPollSleep.String())
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyArchiveDir, DefaultArchiveDir)
	v.SetDefault(KeyOutputExt, DefaultOutputExt)
	v.SetDefault(KeyFrontmatter, false)
}

// readEnvFile reads path and overlays MINERU_* process variables. A missing
// file yields only the process variables.
func readEnvFile(path string) (map[string]string, error) {
	env := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		env, err = godotenv.Read(path)
		if err != nil {
			return nil, failure.Wrap(failure.ErrConfiguration, "reading "+path, err)
		}
	}
	for _, k := range []string{
		EnvAPIBase, EnvAPIToken, EnvUserToken, EnvEnableOCR, EnvEnableTable, EnvEnableFormula,
		EnvLanguage, EnvAllowedExts, EnvPollMax, EnvPollSleep, EnvLogLevel,
	} {
		if val, ok := os.LookupEnv(k); ok {
			env[k] = val
		}
	}
	return env, nil
}

// applyEnv maps .env keys onto viper defaults. Flags are on only for the
// exact value "true"; unparsable or non-positive poll numbers keep the
// built-in default.
func applyEnv(v *viper.Viper, env map[string]string) {
	setString := func(envKey, key string) {
		if val := strings.TrimSpace(env[envKey]); val != "" {
			v.SetDefault(key, val)
		}
	}
	setBool := func(envKey, key string) {
		if val, ok := env[envKey]; ok {
			v.SetDefault(key, strings.TrimSpace(val) == "true")
		}
	}
	setPositive := func(envKey string, apply func(n int)) {
		if n, err := strconv.Atoi(strings.TrimSpace(env[envKey])); err == nil && n > 0 {
			apply(n)
		}
	}

	setString(EnvAPIBase, KeyBaseURL)
	setString(EnvAPIToken, KeyToken)
	setString(EnvUserToken, KeyUserToken)
	setString(EnvLanguage, KeyLanguage)
	setString(EnvLogLevel, KeyLogLevel)
	setBool(EnvEnableOCR, KeyOCR)
	setBool(EnvEnableTable, KeyTable)
	setBool(EnvEnableFormula, KeyFormula)
	if exts := splitList(env[EnvAllowedExts]); len(exts) > 0 {
		v.SetDefault(KeyAllowedExts, exts)
	}
	setPositive(EnvPollMax, func(n int) { v.SetDefault(KeyPollMax, n) })
	setPositive(EnvPollSleep, func(n int) { v.SetDefault(KeyPollSleep, strconv.Itoa(n)) })
}

func build(v *viper.Viper) (types.ConversionConfig, error) {
	interval, err := parseInterval(v.GetString(KeyPollSleep))
	if err != nil {
		return types.ConversionConfig{}, failure.Wrap(failure.ErrConfiguration, "reading "+KeyPollSleep, err)
	}
	timeout, err := parseInterval(v.GetString(KeyHTTPTimeout))
	if err != nil {
		return types.ConversionConfig{}, failure.Wrap(failure.ErrConfiguration, "reading "+KeyHTTPTimeout, err)
	}

	return types.ConversionConfig{
		API: types.APIConfig{
			HTTPConfig: types.HTTPConfig{Timeout: timeout, UserAgent: DefaultUserAgent},
			BaseURL:    strings.TrimSpace(v.GetString(KeyBaseURL)),
			Token:      strings.TrimSpace(v.GetString(KeyToken)),
			UserToken:  strings.TrimSpace(v.GetString(KeyUserToken)),
		},
		Poll: types.PollConfig{
			MaxAttempts: v.GetInt(KeyPollMax),
			Interval:    interval,
		},
		Limits: types.SourceLimits{
			AllowedExts:  stringList(v.Get(KeyAllowedExts)),
			MaxFileBytes: int64(v.GetInt(KeyMaxFileMB)) << 20,
			MaxPages:     v.GetInt(KeyMaxPages),
		},
		Features: types.FeatureFlags{
			OCR:     v.GetBool(KeyOCR),
			Table:   v.GetBool(KeyTable),
			Formula: v.GetBool(KeyFormula),
		},
		Language:    v.GetString(KeyLanguage),
		ArchiveDir:  v.GetString(KeyArchiveDir),
		WorkDir:     v.GetString(KeyWorkDir),
		OutputExt:   strings.TrimPrefix(v.GetString(KeyOutputExt), "."),
		Frontmatter: v.GetBool(KeyFrontmatter),
		LogLevel:    v.GetString(KeyLogLevel),
	}, nil
}

// parseInterval accepts a Go duration ("90s") or a bare number of seconds.
func parseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// stringList normalizes an extension list given as a YAML list or as a
// comma-separated string.
func stringList(raw any) []string {
	switch val := raw.(type) {
	case string:
		return splitList(val)
	case []string:
		return splitList(strings.Join(val, ","))
	case []any:
		parts := make([]string, 0, len(val))
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
		return splitList(strings.Join(parts, ","))
	default:
		return nil
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(p), "."))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks what a job needs before any network call: a real API
// token, a base URL, and positive poll bounds.
func Validate(cfg types.ConversionConfig) error {
	const op = "checking configuration"
	if Placeholder(cfg.API.Token) {
		return failure.New(failure.ErrConfiguration, op, "MinerU API token is missing or still a placeholder")
	}
	if cfg.API.BaseURL == "" {
		return failure.New(failure.ErrConfiguration, op, "API base URL is empty")
	}
	if cfg.Poll.MaxAttempts <= 0 || cfg.Poll.Interval <= 0 {
		return failure.New(failure.ErrConfiguration, op,
			"poll bounds must be positive (max attempts %d, interval %s)", cfg.Poll.MaxAttempts, cfg.Poll.Interval)
	}
	if len(cfg.Limits.AllowedExts) == 0 {
		return failure.New(failure.ErrConfiguration, op, "allowed extension list is empty")
	}
	return nil
}

// Placeholder reports whether token is empty or an unedited template value.
func Placeholder(token string) bool {
	token = strings.TrimSpace(token)
	return token == "" || token == "your_token_here" || strings.Contains(strings.ToLower(token), "example")
}

// Mask hides all but the last four characters of a credential.
func Mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return strings.Repeat("*", 8) + s[len(s)-4:]
}
