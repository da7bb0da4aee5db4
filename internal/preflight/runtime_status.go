package preflight

import "scanpipe/internal/config"

// StatusLine is one row of the status command's system section.
type StatusLine struct {
	Label    string
	Severity string
	Detail   string
}

// SystemChecks resolves status lines that combine daemon state and config
// checks. Network probes are skipped so status stays fast.
func SystemChecks(cfg *config.Config, daemonRunning bool) []StatusLine {
	lines := make([]StatusLine, 0, 6)
	if daemonRunning {
		lines = append(lines, StatusLine{Label: "Daemon", Severity: "ok", Detail: "Running"})
	} else {
		lines = append(lines, StatusLine{Label: "Daemon", Severity: "warn", Detail: "Not running (run `scanpipe daemon`)"})
	}
	if cfg == nil {
		return lines
	}

	for _, r := range []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		staticInsight(cfg),
		CheckNotifications(cfg),
	} {
		lines = append(lines, StatusLine{Label: r.Name, Severity: r.Severity(), Detail: r.Detail})
	}
	lines = append(lines, StatusLine{Label: "Estimator", Severity: "info", Detail: estimatorDetail(cfg)})
	return lines
}

func staticInsight(cfg *config.Config) Result {
	r := Result{Name: "Insight", Passed: true, Optional: true, Detail: cfg.Insight.Provider}
	if cfg.Insight.Provider != "template" && !present(cfg.Insight.APIKey) {
		r.Passed = false
		r.Detail = cfg.Insight.Provider + " (API key missing)"
	}
	return r
}

func estimatorDetail(cfg *config.Config) string {
	if cfg.Estimator.Provider == "gemini" {
		return "gemini " + cfg.Estimator.Model
	}
	return "http " + cfg.Estimator.Endpoint
}
