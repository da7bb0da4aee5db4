// Package visionqc checks that a scan's photos are usable before any model
// sees them. The checks are heuristics over object metadata: presence of the
// required angles, size and resolution, consistent framing and lighting, pose
// per angle, and the same outfit across angles.
package visionqc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"scanpipe/internal/config"
	"scanpipe/internal/logging"
	"scanpipe/internal/photostore"
	"scanpipe/internal/scan"
	"scanpipe/internal/services"
	"scanpipe/internal/stage"
)

// RejectionPrefix starts every QC failure reason shown to users.
const RejectionPrefix = "retake photos: "

// Checker runs the quality checks.
type Checker struct {
	photos photostore.Store
	cfg    config.QC
	logger *slog.Logger
	now    func() time.Time
}

var _ stage.Handler = (*Checker)(nil)

func New(cfg config.QC, photos photostore.Store, logger *slog.Logger) *Checker {
	return &Checker{
		photos: photos,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "vision-qc"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (c *Checker) SetLogger(logger *slog.Logger) {
	c.logger = logging.NewComponentLogger(logger, "vision-qc")
}

func (c *Checker) Stage() scan.Stage { return scan.StageVisionQC }

// Run persists the verdict. A failed verdict moves the scan straight to
// qc_failed with an actionable reason in the same write.
func (c *Checker) Run(ctx context.Context, sc *scan.Scan) (scan.Patch, error) {
	result, err := c.CheckQuality(ctx, sc.AngleURLs)
	if err != nil {
		return scan.Patch{}, err
	}
	if result.Passed {
		return scan.Patch{QC: &result}.WithStatus(scan.StatusQCPassed), nil
	}
	c.logger.Info("photos rejected",
		logging.String(logging.FieldEventType, "qc_rejected"),
		logging.Int("reason_count", len(result.Reasons)),
		logging.String("reasons", strings.Join(result.Reasons, "; ")),
	)
	patch := scan.Patch{
		QC: &result,
		Failure: &scan.Failure{
			Stage:  scan.StageVisionQC,
			Reason: RejectionReason(result.Reasons),
			Kind:   string(services.KindBusinessRejection),
		},
	}
	return patch.WithStatus(scan.StatusQCFailed), nil
}

// RejectionReason formats the user-facing rejection message.
func RejectionReason(reasons []string) string {
	if len(reasons) == 0 {
		return RejectionPrefix + "photos did not pass quality checks"
	}
	return RejectionPrefix + strings.Join(reasons, "; ")
}

func (c *Checker) HealthCheck(context.Context) stage.Health {
	if c.photos == nil {
		return stage.Unhealthy(scan.StageVisionQC, "photo storage not configured")
	}
	if len(c.cfg.RequiredAngles) == 0 {
		return stage.Unhealthy(scan.StageVisionQC, "no required angles configured")
	}
	return stage.Healthy(scan.StageVisionQC)
}

type angleInfo struct {
	name string
	info *photostore.ObjectInfo
}

// CheckQuality returns the verdict for the supplied angle URLs. A failed
// verdict is a normal result; only storage failures return an error.
func (c *Checker) CheckQuality(ctx context.Context, angleURLs map[string]string) (scan.QCResult, error) {
	result := scan.QCResult{CheckedAt: c.now()}
	var reasons []string

	for _, name := range c.cfg.RequiredAngles {
		if strings.TrimSpace(angleURLs[name]) == "" {
			reasons = append(reasons, fmt.Sprintf("missing %s photo", name))
		}
	}

	var checked []angleInfo
	for _, name := range orderedAngles(c.cfg.RequiredAngles, angleURLs) {
		url := strings.TrimSpace(angleURLs[name])
		if url == "" {
			continue
		}
		info, err := c.photos.Stat(ctx, url)
		if err != nil {
			if errors.Is(err, photostore.ErrObjectNotFound) {
				reasons = append(reasons, fmt.Sprintf("%s photo not found", name))
				continue
			}
			if ctx.Err() != nil {
				return scan.QCResult{}, ctx.Err()
			}
			return scan.QCResult{}, services.Wrap(services.ErrTransient, string(scan.StageVisionQC), "stat photo", name, err)
		}
		result.CheckedAngles = append(result.CheckedAngles, name)
		reasons = append(reasons, c.checkObject(name, info)...)
		checked = append(checked, angleInfo{name: name, info: info})
	}

	reasons = append(reasons, c.checkFraming(checked)...)
	reasons = append(reasons, c.checkLighting(checked)...)
	reasons = append(reasons, checkOutfit(checked)...)

	result.Reasons = reasons
	result.Passed = len(reasons) == 0
	return result, nil
}

func (c *Checker) checkObject(name string, info *photostore.ObjectInfo) []string {
	var reasons []string
	if !strings.HasPrefix(strings.ToLower(info.ContentType), "image/") {
		reasons = append(reasons, fmt.Sprintf("%s photo is not an image", name))
		return reasons
	}
	if c.cfg.MinBytes > 0 && info.Size < c.cfg.MinBytes {
		reasons = append(reasons, fmt.Sprintf("%s photo is too small", name))
	}
	if info.Width > 0 && info.Height > 0 {
		short, long := min(info.Width, info.Height), max(info.Width, info.Height)
		wantShort, wantLong := min(c.cfg.MinWidth, c.cfg.MinHeight), max(c.cfg.MinWidth, c.cfg.MinHeight)
		if short < wantShort || long < wantLong {
			reasons = append(reasons, fmt.Sprintf("%s photo resolution %dx%d is too low", name, info.Width, info.Height))
		}
	}
	if info.Brightness != nil {
		switch {
		case *info.Brightness < c.cfg.MinBrightness:
			reasons = append(reasons, fmt.Sprintf("%s photo is too dark", name))
		case c.cfg.MaxBrightness > 0 && *info.Brightness > c.cfg.MaxBrightness:
			reasons = append(reasons, fmt.Sprintf("%s photo is overexposed", name))
		}
	}
	if info.Pose != "" && isStandardAngle(name) && info.Pose != name {
		reasons = append(reasons, fmt.Sprintf("%s photo shows a %s pose", name, info.Pose))
	}
	return reasons
}

func (c *Checker) checkFraming(angles []angleInfo) []string {
	orientations := map[string]struct{}{}
	minRatio, maxRatio := math.Inf(1), math.Inf(-1)
	for _, a := range angles {
		ratio := a.info.AspectRatio()
		if ratio == 0 {
			continue
		}
		orientations[a.info.Orientation()] = struct{}{}
		minRatio = math.Min(minRatio, ratio)
		maxRatio = math.Max(maxRatio, ratio)
	}
	if len(orientations) > 1 {
		return []string{"photos mix portrait and landscape framing"}
	}
	if c.cfg.MaxAspectDrift > 0 && minRatio > 0 && !math.IsInf(minRatio, 1) && (maxRatio-minRatio)/minRatio > c.cfg.MaxAspectDrift {
		return []string{"framing differs between angles"}
	}
	return nil
}

func (c *Checker) checkLighting(angles []angleInfo) []string {
	if c.cfg.MaxBrightnessDelta <= 0 {
		return nil
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	seen := 0
	for _, a := range angles {
		if a.info.Brightness == nil {
			continue
		}
		seen++
		lo = math.Min(lo, *a.info.Brightness)
		hi = math.Max(hi, *a.info.Brightness)
	}
	if seen > 1 && hi-lo > c.cfg.MaxBrightnessDelta {
		return []string{"lighting differs between angles"}
	}
	return nil
}

func checkOutfit(angles []angleInfo) []string {
	outfits := map[string]struct{}{}
	for _, a := range angles {
		if a.info.Outfit != "" {
			outfits[a.info.Outfit] = struct{}{}
		}
	}
	if len(outfits) > 1 {
		return []string{"outfit differs between angles"}
	}
	return nil
}

func isStandardAngle(name string) bool {
	switch name {
	case "front", "side", "back":
		return true
	}
	return false
}

// orderedAngles lists required angles first, then any extras alphabetically.
func orderedAngles(required []string, urls map[string]string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, name := range required {
		if _, ok := urls[name]; ok {
			out = append(out, name)
			seen[name] = struct{}{}
		}
	}
	var extras []string
	for name := range urls {
		if _, ok := seen[name]; !ok {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	return append(out, extras...)
}
