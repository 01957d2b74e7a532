package session

// FleetReport summarizes a fleet-wide stop.
type FleetReport struct {
	// Stopped lists sessions whose processes were all terminated and
	// whose records were cleared.
	Stopped []string

	// ExcludedSelf names the caller's own session, skipped by the
	// self-identity guard. Empty when the caller is outside every session.
	ExcludedSelf string

	// Failures maps session ids to their stop errors. A failed session's
	// record is left untouched.
	Failures map[string]error

	// LoadErrors are records that could not be read at all.
	LoadErrors []error
}

// OK reports whether everything that should stop did.
func (r *FleetReport) OK() bool {
	return len(r.Failures) == 0 && len(r.LoadErrors) == 0
}

// StopAll stops every session except the caller's own. Sessions fail
// independently: one stuck process never aborts the sweep. The caller's
// session is identified per invocation and reported, not stopped —
// stopping it would kill the agent mid-operation.
func (m *Manager) StopAll(opts StopOptions) *FleetReport {
	report := &FleetReport{Failures: make(map[string]error)}

	sessions, loadErrs := LoadAll(m.store)
	report.LoadErrors = loadErrs

	selfID, _ := m.Self(sessions)
	for _, s := range sessions {
		if s.ID == selfID {
			report.ExcludedSelf = s.ID
			continue
		}
		if err := m.Stop(s.ID, opts); err != nil {
			report.Failures[s.ID] = err
			continue
		}
		report.Stopped = append(report.Stopped, s.ID)
	}
	return report
}
