package drive

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
)

// ThrusterStatus is one channel's slice of a status report.
type ThrusterStatus struct {
	Name    string  `json:"name"`
	Channel int     `json:"channel"`
	Power   float64 `json:"power"`
	PulseUs int     `json:"pulseUs"`
}

// Status is a point-in-time snapshot of the pipeline for diagnostics.
type Status struct {
	State      string           `json:"state"`
	PowerLimit float64          `json:"powerLimit"`
	Thrusters  []ThrusterStatus `json:"thrusters"`
}

// Status reports the last commanded output per channel and the safety state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.lastState.String(), PowerLimit: c.limit}
	for _, spec := range c.specs {
		st.Thrusters = append(st.Thrusters, ThrusterStatus{
			Name:    spec.Name,
			Channel: spec.Channel,
			Power:   c.lastPower[spec.Channel],
			PulseUs: int(c.lastPulse[spec.Channel]),
		})
	}
	return st
}

// Routes returns the read-only diagnostics routes for the controller.  There
// is deliberately no route that commands thrust; the pendant and the safety
// state machine are the only write path to hardware.
func (c *Controller) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
		c.mu.Lock()
		s := c.lastState.String()
		c.mu.Unlock()
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(s + "\n"))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(c.Status()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return r
}
