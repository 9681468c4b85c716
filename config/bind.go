package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// cliFlags holds flag values until the config file has been read, so the
// command line wins over the file.
type cliFlags struct {
	debug        bool
	ignoreChild  bool
	interceptors []string
	scripts      []string
	host         string
	port         int
	instaflush   bool
	syslog       bool
	errorFile    string
}

func (c *Config) BindFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	flags := &cliFlags{}
	c.flags = flags

	// Config path
	fs.StringVarP(&c.ConfigPath, "config", "c", c.ConfigPath, "Path to config file (.json, .jsonc, .yaml)")

	// Pipeline
	fs.BoolVarP(&flags.debug, "debug", "d", c.Debug, "Enable debug mode with verbose output")
	fs.StringSliceVarP(&flags.interceptors, "interceptors", "i", nil, "Comma separated list of interceptors to use (log,petep,proxifier)")
	fs.StringSliceVarP(&flags.scripts, "scripts", "s", nil, "Comma separated list of capture scripts (gnutls,libc,openssl,schannel,winsock)")
	fs.BoolVar(&flags.ignoreChild, "ignore-child-processes", c.IgnoreChildProcesses, "Disable automatic child process hooking")

	// Agent server
	fs.StringVar(&flags.host, "listen-host", c.System.Server.Host, "Address capture points connect to")
	fs.IntVar(&flags.port, "listen-port", c.System.Server.Port, "Port capture points connect to")

	// Logging
	fs.BoolVar(&flags.instaflush, "instaflush", c.System.Logging.Instaflush, "Flush logs immediately")
	fs.BoolVar(&flags.syslog, "syslog", c.System.Logging.Syslog, "Enable syslog output")
	fs.StringVar(&flags.errorFile, "error-file", c.System.Logging.ErrorFile, "Copy error log lines to this file")
}

// ApplyFlags copies every flag that was set on the command line into c.
// Listing an empty value for --interceptors or --scripts clears the list.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) {
	flags := c.flags
	if flags == nil {
		return
	}
	if fs.Changed("debug") {
		c.Debug = flags.debug
	}
	if fs.Changed("ignore-child-processes") {
		c.IgnoreChildProcesses = flags.ignoreChild
	}
	if fs.Changed("interceptors") {
		c.Interceptors = nil
		for _, name := range flags.interceptors {
			if name != "" {
				c.Interceptors = append(c.Interceptors, InterceptorConfig{Type: name, Config: map[string]any{}})
			}
		}
	}
	if fs.Changed("scripts") {
		c.Scripts = nil
		for _, name := range flags.scripts {
			if name != "" {
				c.Scripts = append(c.Scripts, ScriptConfig{Type: name, Config: map[string]any{}})
			}
		}
	}
	if fs.Changed("listen-host") {
		c.System.Server.Host = flags.host
	}
	if fs.Changed("listen-port") {
		c.System.Server.Port = flags.port
	}
	if fs.Changed("instaflush") {
		c.System.Logging.Instaflush = flags.instaflush
	}
	if fs.Changed("syslog") {
		c.System.Logging.Syslog = flags.syslog
	}
	if fs.Changed("error-file") {
		c.System.Logging.ErrorFile = flags.errorFile
	}
}
