package handler

import (
	"net/http"
	"os"
	"runtime"

	"github.com/Warxim/deluder/core"
	"github.com/Warxim/deluder/http/ws"
	"github.com/Warxim/deluder/metrics"
)

func (api *API) RegisterSystemApi() {
	api.mux.HandleFunc("/api/system/info", api.handleSystemInfo).Methods(http.MethodGet)
	api.mux.HandleFunc("/api/version", api.handleVersion).Methods(http.MethodGet)
}

func (api *API) RegisterMetricsApi() {
	api.mux.HandleFunc("/api/metrics", api.handleMetrics).Methods(http.MethodGet)
}

func (api *API) RegisterInterceptorsApi() {
	api.mux.HandleFunc("/api/interceptors", api.handleInterceptors).Methods(http.MethodGet)
}

func (api *API) handleSystemInfo(w http.ResponseWriter, r *http.Request) {

	snapshot := metrics.GetMetricsCollector().GetSnapshot()
	info := SystemInfo{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		GoVersion:  runtime.Version(),
		PID:        os.Getpid(),
		Agents:     int(snapshot.ActiveAgents),
		LogViewers: ws.GetLogHub().Clients(),
	}
	writeJson(w, info)
}

func (api *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJson(w, api.version)
}

func (api *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJson(w, metrics.GetMetricsCollector().GetSnapshot())
}

func (api *API) handleInterceptors(w http.ResponseWriter, r *http.Request) {
	writeJson(w, InterceptorsResponse{
		Chain:     api.core.InterceptorNames(),
		Available: core.InterceptorTypes(),
		Scripts:   api.core.Scripts(),
	})
}
