package logging

import "strings"

// FormatSubject builds the scan/stage subject string used in console output.
// Scan identifiers are shortened to their first UUID segment.
func FormatSubject(scanID, stage string) string {
	scanID = strings.TrimSpace(scanID)
	stage = strings.TrimSpace(stage)
	if idx := strings.IndexByte(scanID, '-'); idx > 0 {
		scanID = scanID[:idx]
	}
	switch {
	case scanID != "" && stage != "":
		return "scan " + scanID + " · " + stage
	case scanID != "":
		return "scan " + scanID
	default:
		return stage
	}
}
