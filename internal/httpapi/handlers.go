package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pamir-ai-pkgs/distiller-services/internal/apperror"
	"github.com/pamir-ai-pkgs/distiller-services/internal/statestore"
)

// statusPayload is SystemState as it goes over the wire: ap_password is
// included only in AP_MODE (spec §4.G), everywhere else it is omitted.
type statusPayload struct {
	statestore.SystemState
}

func (s *Server) writeStatus(w http.ResponseWriter, st statestore.SystemState) {
	if st.ConnectionState != statestore.APMode {
		st.APPassword = ""
	}
	writeJSON(w, http.StatusOK, statusPayload{st})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, s.orch.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleNetworks serves a WiFi scan, rate-limited to one per 5s (spec
// §4.G); concurrent/fast-repeated requests get the cached result.
func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	networks, err := s.scans.get(r.Context(), s.net)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"networks": networks})
}

type connectRequest struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
	Hidden   bool   `json:"hidden"`
}

// handleConnect implements spec §4.G's connect contract: 202 + session_id
// once the lock is acquired and the attempt is underway, 409 if the lock is
// already held, 400 on BAD_INPUT. A client-supplied session cookie, if
// present, also rate-limits that session to one in-flight /api/connect at a
// time, independent of and tighter than the process-wide connect lock.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody(apperror.BadInput, "malformed JSON body"))
		return
	}

	if sessionID, ok := readSessionCookie(r, s.cutter); ok {
		if _, already := s.connectInFlight.LoadOrStore(sessionID, true); already {
			writeJSON(w, http.StatusConflict, errBody(apperror.ScanBusy, "a connect attempt for this session is already in progress"))
			return
		}
		defer s.connectInFlight.Delete(sessionID)
	}

	sessionID, err := s.orch.Connect(r.Context(), req.SSID, req.Password, req.Hidden)
	if err != nil {
		writeAppError(w, err)
		return
	}

	setSessionCookie(w, s.cutter, sessionID)
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Disconnect(r.Context()); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "disconnecting"})
}

// handleCaptiveProbe returns the OS captive-portal detection redirect while
// in AP_MODE, and the OS-expected "no captive portal here" payload
// otherwise, per spec §4.G.
func (s *Server) handleCaptiveProbe(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := s.orch.Status()
		if st.ConnectionState == statestore.APMode {
			target := fmt.Sprintf("http://%s:%d/", s.apIP, s.apPort)
			http.Redirect(w, r, target, http.StatusFound)
			return
		}

		switch path {
		case "/generate_204":
			w.WriteHeader(http.StatusNoContent)
		case "/ncsi.txt":
			_, _ = w.Write([]byte("Microsoft NCSI"))
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<HTML><HEAD><TITLE>Success</TITLE></HEAD><BODY>Success</BODY></HTML>"))
		}
	}
}

// handleCatchAll serves the provisioning UI in AP_MODE and redirects to the
// status page otherwise, mirroring the teacher's defaultHandler.
func (s *Server) handleCatchAll(w http.ResponseWriter, r *http.Request) {
	st := s.orch.Status()
	if st.ConnectionState == statestore.APMode && r.URL.Path != "/" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(indexHTML))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errBody(kind apperror.Kind, message string) map[string]string {
	return map[string]string{"code": string(kind), "message": message}
}

// writeAppError maps a typed apperror.Error to spec §4.G's status codes;
// anything else is a 500.
func writeAppError(w http.ResponseWriter, err error) {
	ae, ok := err.(*apperror.Error)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errBody("INTERNAL", err.Error()))
		return
	}

	status := http.StatusInternalServerError
	switch ae.Kind {
	case apperror.BadInput:
		status = http.StatusBadRequest
	case apperror.ScanBusy:
		status = http.StatusConflict
	}
	writeJSON(w, status, errBody(ae.Kind, ae.Message))
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>Device Setup</title></head>
<body><div id="app">Loading provisioning UI&hellip;</div></body>
</html>`
