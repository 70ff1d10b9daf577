package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ErrNoConfig is returned by Discover when no config file exists.
var ErrNoConfig = errors.New("no config found")

// Load reads, interpolates, validates and integrity-checks a config file.
// A directory is accepted and resolved to config.yaml inside it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath

	if err := VerifyChecksums(absPath); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefaults loads configPath, or the discovered config when configPath
// is empty, falling back to Defaults when nothing is found.
func LoadOrDefaults(configPath string) (*Config, error) {
	if configPath != "" {
		return Load(configPath)
	}
	found, err := Discover()
	if errors.Is(err, ErrNoConfig) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, err
	}
	return Load(found)
}

// Parse decodes yaml over Defaults, expanding ${VAR} references first, and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	expanded := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds the config file by checking standard locations.
// Priority order: $BUSDISPATCH_CONFIG, ~/.config/busdispatch/config.yaml,
// /etc/busdispatch/config.yaml, ./config.yaml.
func Discover() (string, error) {
	var candidates []string
	if p := os.Getenv("BUSDISPATCH_CONFIG"); p != "" {
		candidates = append(candidates, p)
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "busdispatch", "config.yaml"))
	}
	candidates = append(candidates, "/etc/busdispatch/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w (checked: %s)", ErrNoConfig, strings.Join(candidates, ", "))
}

// interpolateEnv replaces ${VAR} with its value. Unset variables are left in
// place so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and unresolved ${VAR} references.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if cfg.API.Enabled {
		if m := envVarPattern.FindStringSubmatch(cfg.API.APIKey); len(m) > 1 {
			return fmt.Errorf("api.api_key: environment variable ${%s} is not set", m[1])
		}
	}
	return nil
}

// describe renders "fleet.unit_capacity must be gt 0" style messages.
func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s (got %q)", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s must be %s %s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
}
