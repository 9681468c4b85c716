package handler

import (
	"github.com/Warxim/deluder/config"
	"github.com/Warxim/deluder/core"
	"github.com/gorilla/mux"
)

type API struct {
	cfg     *config.Config
	core    *core.Core
	mux     *mux.Router
	version VersionInfo
}

// InterceptorsResponse describes the running chain.
type InterceptorsResponse struct {
	Chain     []string              `json:"chain"`
	Available []string              `json:"available"`
	Scripts   []config.ScriptConfig `json:"scripts"`
}

// ConfigResponse wraps the running config with its source path.
type ConfigResponse struct {
	*config.Config
	Path string `json:"path,omitempty"`
}
