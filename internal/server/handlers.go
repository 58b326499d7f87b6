package server

import (
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/lumio-dev/lumio/internal/indicator"
)

// maxSaveBody bounds the /save request body; the three known settings fit
// comfortably under it.
const maxSaveBody = 4 * 1024

func (s *APIServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.provisioningAllowed(w) {
		return
	}

	settings, err := s.provision.GetSettings(r.Context())
	ledColor := indicator.DefaultColorSetting
	if err != nil {
		log.Printf("[APIServer] load settings for portal failed: %v", err)
	} else {
		ledColor = settings.LEDColor
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, struct{ LEDColor string }{LEDColor: ledColor}); err != nil {
		log.Printf("[APIServer] render portal failed: %v", err)
	}
}

func (s *APIServer) handleStyle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.provisioningAllowed(w) {
		return
	}

	data, err := assetsFS.ReadFile("assets/style.css")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "asset unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Write(data)
}

// handleSave accepts the raw form-encoded body and hands the undecoded
// pairs to the provisioning service, which percent-decodes and validates
// each field independently.
func (s *APIServer) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.provisioningAllowed(w) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSaveBody))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read request body")
		return
	}

	fields := parseFormPairs(string(body))
	if len(fields) == 0 {
		writeError(w, http.StatusBadRequest, "no settings in request")
		return
	}

	result, err := s.provision.ApplySettings(r.Context(), fields)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	for key, msg := range result.FieldErrors {
		log.Printf("[APIServer] setting %q rejected: %s", key, msg)
	}

	if result.RebootRequired {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("Wi-Fi settings saved. Rebooting..."))
		if s.restart != nil {
			go func() {
				// Let the response flush before the process goes away.
				time.Sleep(flushDelay)
				s.restart("network credentials changed")
			}()
		}
		return
	}

	http.Redirect(w, r, "/?saved=1", http.StatusSeeOther)
}

func (s *APIServer) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.provisioningAllowed(w) {
		return
	}

	settings, err := s.provision.GetSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.statusSnapshot())
}

// parseFormPairs splits a form-encoded body into key to raw (still encoded)
// value. Later duplicates win.
func parseFormPairs(body string) map[string]string {
	fields := make(map[string]string)
	for _, pair := range strings.Split(body, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if key == "" {
			continue
		}
		fields[key] = value
	}
	return fields
}
