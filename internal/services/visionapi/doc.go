// Package visionapi is the HTTP client for the body-composition vision
// service. It posts photo references plus the optional prior estimate and
// returns the raw metrics; range validation happens in the estimator stage.
package visionapi
