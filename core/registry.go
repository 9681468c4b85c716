package core

import (
	"fmt"

	"github.com/Warxim/deluder/interceptor"
	"github.com/Warxim/deluder/interceptor/petep"
	"github.com/Warxim/deluder/interceptor/proxifier"
	"github.com/Warxim/deluder/log"
)

// Factory builds an interceptor from its user settings. It must not open
// connections; that happens in Init.
type Factory func(settings map[string]any, logger *log.Logger) (interceptor.Interceptor, error)

type registration struct {
	factory  Factory
	defaults func() map[string]any
}

// Order in which interceptor types are listed in the example config.
var interceptorOrder = []string{"log", "petep", "proxifier"}

var registry = map[string]registration{
	"log": {
		factory: func(_ map[string]any, logger *log.Logger) (interceptor.Interceptor, error) {
			return interceptor.NewLog(logger), nil
		},
	},
	"petep": {
		factory: func(settings map[string]any, logger *log.Logger) (interceptor.Interceptor, error) {
			return petep.New(settings, logger)
		},
		defaults: petep.Defaults,
	},
	"proxifier": {
		factory: func(settings map[string]any, logger *log.Logger) (interceptor.Interceptor, error) {
			return proxifier.New(settings, logger)
		},
		defaults: proxifier.Defaults,
	},
}

// InterceptorTypes lists the interceptor types a config may name.
func InterceptorTypes() []string {
	return append([]string(nil), interceptorOrder...)
}

// InterceptorDefaults returns the default settings of every interceptor type.
func InterceptorDefaults() map[string]map[string]any {
	out := make(map[string]map[string]any, len(registry))
	for name, reg := range registry {
		if reg.defaults == nil {
			out[name] = map[string]any{}
			continue
		}
		out[name] = reg.defaults()
	}
	return out
}

func lookup(name string) (registration, error) {
	reg, ok := registry[name]
	if !ok {
		return registration{}, &ConfigError{Msg: fmt.Sprintf("interceptor %s not found", name)}
	}
	return reg, nil
}
