package handler

type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

type SystemInfo struct {
	OS         string `json:"os"`
	Arch       string `json:"arch"`
	GoVersion  string `json:"go_version"`
	PID        int    `json:"pid"`
	Agents     int    `json:"agents"`
	LogViewers int    `json:"log_viewers"`
}
