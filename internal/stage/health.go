package stage

import "scanpipe/internal/scan"

// Health summarizes whether a pipeline stage can run right now.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy reports stg as ready.
func Healthy(stg scan.Stage) Health {
	return Health{Name: string(stg), Ready: true}
}

// Unhealthy reports stg as unable to run, with the reason in detail.
func Unhealthy(stg scan.Stage, detail string) Health {
	return Health{Name: string(stg), Ready: false, Detail: detail}
}

// Limited reports stg as ready but running a reduced mode, such as the
// template-only insight writer.
func Limited(stg scan.Stage, detail string) Health {
	return Health{Name: string(stg), Ready: true, Detail: detail}
}
