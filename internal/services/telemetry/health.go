package telemetry

import (
	"encoding/json"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// WriteHealth is what the health handlers need from the store's write path.
type WriteHealth interface {
	LastWriteErrorAge() time.Duration
}

type healthHandler struct {
	mqtt  mqtt.Client
	store WriteHealth
}

func NewHealthHandler(m mqtt.Client, store WriteHealth) http.Handler {
	return &healthHandler{mqtt: m, store: store}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status          string  `json:"status"`
		MQTTConnected   bool    `json:"mqtt_connected"`
		LastWriteErrorS float64 `json:"last_write_error_age_sec"`
	}
	st := status{
		MQTTConnected:   h.mqtt != nil && h.mqtt.IsConnectionOpen(),
		LastWriteErrorS: h.store.LastWriteErrorAge().Seconds(),
	}

	switch {
	case st.MQTTConnected && h.store.LastWriteErrorAge() > 30*time.Second:
		st.Status = "ok"
	case st.MQTTConnected:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

type readyHandler struct {
	mqtt     mqtt.Client
	store    WriteHealth
	minError time.Duration
}

// NewReadyHandler returns 200 only while the broker is connected and no
// write error happened within minOkErrorAge.
func NewReadyHandler(m mqtt.Client, store WriteHealth, minOkErrorAge time.Duration) http.Handler {
	return &readyHandler{mqtt: m, store: store, minError: minOkErrorAge}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := h.mqtt != nil && h.mqtt.IsConnectionOpen() && h.store.LastWriteErrorAge() > h.minError
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ready})
}
