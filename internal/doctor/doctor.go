// Package doctor checks a busdispatch configuration for settings that load
// cleanly but will misbehave at dispatch time.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/busdispatch/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{}

	d.checkFleet(r)
	d.checkLiveUnits(r)
	d.checkDepartureHook(r)
	d.checkState(r)
	d.checkAPI(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) checkFleet(r *Result) {
	f := d.cfg.Fleet
	capacity := f.UnitCapacity * f.UnitCeiling
	switch {
	case f.DayWorkerCeiling == 0:
		d.addWarning(r, "fleet", "fleet.day_worker_ceiling",
			fmt.Sprintf("no day ceiling; fleet capacity (%d) is the only bound", capacity))
	case f.DayWorkerCeiling > capacity:
		d.addWarning(r, "fleet", "fleet.day_worker_ceiling",
			fmt.Sprintf("day ceiling %d is unreachable; %d buses of %d seats carry at most %d",
				f.DayWorkerCeiling, f.UnitCeiling, f.UnitCapacity, capacity))
	}
}

func (d *Doctor) checkLiveUnits(r *Result) {
	live := d.cfg.Dispatch.MaxLiveUnits
	if live > 0 && live < d.cfg.Fleet.UnitCeiling {
		d.addWarning(r, "dispatch", "dispatch.max_live_units",
			fmt.Sprintf("only %d of %d units can run at once; larger dispatches will be partial",
				live, d.cfg.Fleet.UnitCeiling))
	}
}

func (d *Doctor) checkDepartureHook(r *Result) {
	hook := d.cfg.Dispatch.DepartureHook
	if hook == nil {
		return
	}

	if _, err := exec.LookPath(hook.Command); err != nil {
		d.addError(r, "departure_hook", "dispatch.departure_hook.command",
			fmt.Sprintf("command %q is not executable: %v", hook.Command, err))
	}

	joinTimeout := d.cfg.Dispatch.JoinTimeout
	if joinTimeout > 0 && hook.Timeout > joinTimeout {
		d.addWarning(r, "departure_hook", "dispatch.departure_hook.timeout",
			fmt.Sprintf("hook timeout %s exceeds join_timeout %s; slow hooks will be abandoned",
				hook.Timeout, joinTimeout))
	}
}

func (d *Doctor) checkState(r *Result) {
	path := d.cfg.State.Path
	if path == ":memory:" {
		d.addWarning(r, "state", "state.path", "in-memory state; the ledger is lost on exit")
		return
	}
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		d.addWarning(r, "state", "state.path",
			fmt.Sprintf("directory %s does not exist and will be created", dir))
	}
}

func (d *Doctor) checkAPI(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if len(d.cfg.API.APIKey) < 16 {
		d.addWarning(r, "api", "api.api_key", "API key is shorter than 16 characters")
	}

	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		d.addWarning(r, "api", "api.listen", "API listens on all interfaces")
		return
	}
	if ip := net.ParseIP(host); ip != nil && !ip.IsLoopback() {
		d.addWarning(r, "api", "api.listen", fmt.Sprintf("API listens on non-loopback address %s", host))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
