package handlers

import (
	"net/http"
	"runtime"
)

// VersionInfo is the build identity served at /version. The values come
// from ldflags at release time and default to dev placeholders.
type VersionInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// VersionHandler serves the build identity.
type VersionHandler struct {
	info VersionInfo
}

// NewVersionHandler creates a version handler. Empty fields get dev
// placeholders so the endpoint is always well formed.
func NewVersionHandler(info VersionInfo) *VersionHandler {
	if info.Name == "" {
		info.Name = "farmsight"
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.Commit == "" {
		info.Commit = "HEAD"
	}
	if info.BuildDate == "" {
		info.BuildDate = "unknown"
	}
	info.GoVersion = runtime.Version()
	return &VersionHandler{info: info}
}

// ServeHTTP handles GET /version.
func (h *VersionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.info)
}
