// Package health serves the liveness and readiness probes of a voicebridge
// process. /healthz answers 200 while the process can serve HTTP. /readyz
// answers 200 only while every [Checker] passes: a client is ready while it
// holds a live peer connection, a server while it admits new sessions.
package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Probe outcomes used in [Report].
const (
	StatusOK   = "ok"
	StatusFail = "fail"
)

// Checker is one named readiness condition. Check must not block; the
// conditions it reads are in-memory state of the running endpoint.
type Checker struct {
	Name  string
	Check func() error
}

// Link is implemented by the client.
type Link interface {
	Connected() bool
}

// Acceptor is implemented by the server's session handler.
type Acceptor interface {
	Accepting() bool
}

// PeerChecker fails while l has no live connection.
func PeerChecker(l Link) Checker {
	return Checker{Name: "peer", Check: func() error {
		if !l.Connected() {
			return errors.New("not connected")
		}
		return nil
	}}
}

// ListenerChecker fails once a stops admitting sessions.
func ListenerChecker(a Acceptor) Checker {
	return Checker{Name: "listener", Check: func() error {
		if !a.Accepting() {
			return errors.New("shutting down")
		}
		return nil
	}}
}

// Report is the JSON body of both probes.
type Report struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	started  time.Time
	now      func() time.Time
}

// New returns a handler evaluating checkers in order on each /readyz.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		started:  time.Now(),
		now:      time.Now,
	}
}

// Evaluate runs every checker and reports whether all passed.
func (h *Handler) Evaluate() (Report, bool) {
	rep := Report{Status: StatusOK, Uptime: h.uptime()}
	if len(h.checkers) == 0 {
		return rep, true
	}
	rep.Checks = make(map[string]string, len(h.checkers))
	for _, c := range h.checkers {
		if err := c.Check(); err != nil {
			rep.Checks[c.Name] = StatusFail + ": " + err.Error()
			rep.Status = StatusFail
			continue
		}
		rep.Checks[c.Name] = StatusOK
	}
	return rep, rep.Status == StatusOK
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, Report{Status: StatusOK, Uptime: h.uptime()})
}

// Readyz answers 200 when [Handler.Evaluate] passes and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, _ *http.Request) {
	rep, ok := h.Evaluate()
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	writeReport(w, code, rep)
}

// Register mounts GET /healthz and GET /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func (h *Handler) uptime() string {
	return h.now().Sub(h.started).Truncate(time.Second).String()
}

func writeReport(w http.ResponseWriter, code int, rep Report) {
	body, err := json.Marshal(rep)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}
