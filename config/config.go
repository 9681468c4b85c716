package config

import (
	"github.com/Warxim/deluder/log"
)

type Config struct {
	ConfigPath string    `json:"-" yaml:"-"`
	flags      *cliFlags

	Debug                bool                `json:"debug" yaml:"debug"`
	IgnoreChildProcesses bool                `json:"ignoreChildProcesses" yaml:"ignoreChildProcesses"`
	Scripts              []ScriptConfig      `json:"scripts" yaml:"scripts"`
	Interceptors         []InterceptorConfig `json:"interceptors" yaml:"interceptors"`
	System               SystemConfig        `json:"system" yaml:"system"`
}

// ScriptConfig selects a capture script and overrides its defaults.
type ScriptConfig struct {
	Type   string         `json:"type" yaml:"type"`
	Config map[string]any `json:"config" yaml:"config"`
}

// InterceptorConfig selects an interceptor and overrides its defaults.
type InterceptorConfig struct {
	Type   string         `json:"type" yaml:"type"`
	Config map[string]any `json:"config" yaml:"config"`
}

type SystemConfig struct {
	Logging     Logging   `json:"logging" yaml:"logging"`
	Server      WebServer `json:"server" yaml:"server"`
	MaxInFlight int       `json:"maxInFlight" yaml:"maxInFlight"`
}

type Logging struct {
	Level      log.Level `json:"level" yaml:"level"`
	Instaflush bool      `json:"instaflush" yaml:"instaflush"`
	Syslog     bool      `json:"syslog" yaml:"syslog"`
	ErrorFile  string    `json:"errorFile" yaml:"errorFile"`
}

// WebServer is the listener capture points and the HTTP API share.
type WebServer struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

var DefaultConfig = Config{
	Debug:                false,
	IgnoreChildProcesses: false,
	Scripts: []ScriptConfig{
		{Type: "winsock"},
		{Type: "openssl"},
		{Type: "schannel"},
	},
	Interceptors: []InterceptorConfig{
		{Type: "log"},
	},
	System: SystemConfig{
		Logging: Logging{
			Level:      log.LevelInfo,
			Instaflush: true,
			Syslog:     false,
		},
		Server: WebServer{
			Host: "127.0.0.1",
			Port: 7000,
		},
		MaxInFlight: 1024,
	},
}

// NewConfig returns a deep copy of DefaultConfig.
func NewConfig() Config {
	cfg := DefaultConfig
	cfg.Scripts = make([]ScriptConfig, len(DefaultConfig.Scripts))
	for i, s := range DefaultConfig.Scripts {
		cfg.Scripts[i] = ScriptConfig{Type: s.Type, Config: Clone(s.Config)}
	}
	cfg.Interceptors = make([]InterceptorConfig, len(DefaultConfig.Interceptors))
	for i, ic := range DefaultConfig.Interceptors {
		cfg.Interceptors[i] = InterceptorConfig{Type: ic.Type, Config: Clone(ic.Config)}
	}
	return cfg
}
