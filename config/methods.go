package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Warxim/deluder/log"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

func (c *Config) SaveToFile(path string) error {
	if path == "" {
		return nil
	}

	data, err := c.marshal(path)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadFromFile overlays the file at path onto c. Keys missing from the file
// keep their current values; lists present in the file replace the current
// ones. The format follows the extension: .yaml/.yml, .jsonc, anything else
// is JSON (comments allowed).
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path is a directory, not a file: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(jsonc.ToJSON(data), c)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.ConfigPath = path
	return nil
}

func (c *Config) marshal(path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(c)
	}
	return json.MarshalIndent(c, "", "    ")
}

func (c *Config) ApplyLogLevel(level string) {
	l, err := log.ParseLevel(level)
	if err != nil {
		l = log.LevelInfo
	}
	c.System.Logging.Level = l
}

func (c *Config) Validate() error {
	if c.System.Server.Port < 0 || c.System.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 0 and 65535")
	}
	if c.System.MaxInFlight < 1 {
		return fmt.Errorf("maxInFlight must be at least 1")
	}
	if c.System.Logging.Level < log.LevelSilent || c.System.Logging.Level > log.LevelDebug {
		return fmt.Errorf("invalid log level %d", c.System.Logging.Level)
	}
	for i, s := range c.Scripts {
		if s.Type == "" {
			return fmt.Errorf("script #%d has no type", i+1)
		}
	}
	for i, ic := range c.Interceptors {
		if ic.Type == "" {
			return fmt.Errorf("interceptor #%d has no type", i+1)
		}
	}
	return nil
}

// Example returns a config listing every script and interceptor with its
// defaults filled in.
func Example(interceptorDefaults map[string]map[string]any, interceptorOrder []string) Config {
	cfg := NewConfig()
	cfg.Scripts = nil
	for _, name := range ScriptTypes() {
		cfg.Scripts = append(cfg.Scripts, ScriptConfig{Type: name, Config: Clone(ScriptDefaults[name])})
	}
	cfg.Interceptors = nil
	for _, name := range interceptorOrder {
		defaults := Clone(interceptorDefaults[name])
		if defaults == nil {
			defaults = map[string]any{}
		}
		cfg.Interceptors = append(cfg.Interceptors, InterceptorConfig{Type: name, Config: defaults})
	}
	return cfg
}

func (c *Config) LogString() string {
	types := make([]string, 0, len(c.Interceptors))
	for _, ic := range c.Interceptors {
		types = append(types, ic.Type)
	}
	scripts := make([]string, 0, len(c.Scripts))
	for _, s := range c.Scripts {
		scripts = append(scripts, s.Type)
	}
	return fmt.Sprintf("debug=%t ignoreChildProcesses=%t interceptors=[%s] scripts=[%s] server=%s:%d",
		c.Debug, c.IgnoreChildProcesses, strings.Join(types, ","), strings.Join(scripts, ","),
		c.System.Server.Host, c.System.Server.Port)
}
