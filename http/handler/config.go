package handler

import (
	"net/http"

	"github.com/Warxim/deluder/core"
)

func (api *API) RegisterConfigApi() {
	api.mux.HandleFunc("/api/config", api.handleConfig).Methods(http.MethodGet)
	api.mux.HandleFunc("/api/config/example", api.handleExampleConfig).Methods(http.MethodGet)
}

func (api *API) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJson(w, ConfigResponse{Config: api.cfg, Path: api.cfg.ConfigPath})
}

func (api *API) handleExampleConfig(w http.ResponseWriter, r *http.Request) {
	example := core.ExampleConfig()
	writeJson(w, &example)
}
