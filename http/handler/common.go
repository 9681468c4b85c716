package handler

import (
	"encoding/json"
	"net/http"

	"github.com/Warxim/deluder/config"
	"github.com/Warxim/deluder/core"
	"github.com/gorilla/mux"
)

func NewAPIHandler(cfg *config.Config, c *core.Core, version VersionInfo) *API {
	return &API{cfg: cfg, core: c, version: version}
}

func (api *API) RegisterEndpoints(r *mux.Router) {
	api.mux = r

	api.RegisterConfigApi()
	api.RegisterMetricsApi()
	api.RegisterInterceptorsApi()
	api.RegisterSystemApi()
}

func setJsonHeader(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
}

func writeJson(w http.ResponseWriter, v any) {
	setJsonHeader(w)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
