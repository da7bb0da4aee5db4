package visionqc

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanpipe/internal/config"
	"scanpipe/internal/logging"
	"scanpipe/internal/photostore"
	"scanpipe/internal/scan"
	"scanpipe/internal/services"
)

type fakePhotos struct {
	objects map[string]*photostore.ObjectInfo
	err     error
}

func (f *fakePhotos) Stat(_ context.Context, url string) (*photostore.ObjectInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.objects[url]
	if !ok {
		return nil, photostore.ErrObjectNotFound
	}
	cp := *info
	return &cp, nil
}

func (f *fakePhotos) Read(context.Context, string) ([]byte, string, error) {
	return nil, "", errors.New("not used")
}

func brightness(v float64) *float64 { return &v }

func goodPhotos() (*fakePhotos, map[string]string) {
	urls := map[string]string{}
	photos := &fakePhotos{objects: map[string]*photostore.ObjectInfo{}}
	for _, angle := range []string{"front", "side", "back"} {
		url := "gs://scans/u1/" + angle + ".jpg"
		urls[angle] = url
		photos.objects[url] = &photostore.ObjectInfo{
			URL: url, ContentType: "image/jpeg", Size: 200_000,
			Width: 1080, Height: 1920, Brightness: brightness(0.5),
			Pose: angle, Outfit: "black-shorts",
		}
	}
	return photos, urls
}

func newChecker(photos photostore.Store) *Checker {
	return New(config.Default().QC, photos, logging.NewNop())
}

func TestCheckQualityPasses(t *testing.T) {
	photos, urls := goodPhotos()
	result, err := newChecker(photos).CheckQuality(context.Background(), urls)
	require.NoError(t, err)
	assert.True(t, result.Passed, "reasons: %v", result.Reasons)
	assert.Equal(t, []string{"front", "side", "back"}, result.CheckedAngles)
	assert.False(t, result.CheckedAt.IsZero())
}

func TestCheckQualityRejections(t *testing.T) {
	cases := map[string]struct {
		mutate func(*fakePhotos, map[string]string)
		reason string
	}{
		"missing angle": {
			mutate: func(_ *fakePhotos, urls map[string]string) { delete(urls, "back") },
			reason: "missing back photo",
		},
		"object not found": {
			mutate: func(p *fakePhotos, urls map[string]string) { delete(p.objects, urls["side"]) },
			reason: "side photo not found",
		},
		"not an image": {
			mutate: func(p *fakePhotos, urls map[string]string) { p.objects[urls["front"]].ContentType = "application/pdf" },
			reason: "front photo is not an image",
		},
		"too small": {
			mutate: func(p *fakePhotos, urls map[string]string) { p.objects[urls["front"]].Size = 100 },
			reason: "front photo is too small",
		},
		"low resolution": {
			mutate: func(p *fakePhotos, urls map[string]string) {
				p.objects[urls["front"]].Width, p.objects[urls["front"]].Height = 240, 320
			},
			reason: "front photo resolution 240x320 is too low",
		},
		"mixed orientation": {
			mutate: func(p *fakePhotos, urls map[string]string) {
				p.objects[urls["side"]].Width, p.objects[urls["side"]].Height = 1920, 1080
			},
			reason: "photos mix portrait and landscape framing",
		},
		"aspect drift": {
			mutate: func(p *fakePhotos, urls map[string]string) { p.objects[urls["back"]].Width = 1400 },
			reason: "framing differs between angles",
		},
		"too dark": {
			mutate: func(p *fakePhotos, urls map[string]string) { p.objects[urls["front"]].Brightness = brightness(0.05) },
			reason: "front photo is too dark",
		},
		"lighting spread": {
			mutate: func(p *fakePhotos, urls map[string]string) { p.objects[urls["back"]].Brightness = brightness(0.85) },
			reason: "lighting differs between angles",
		},
		"wrong pose": {
			mutate: func(p *fakePhotos, urls map[string]string) { p.objects[urls["side"]].Pose = "front" },
			reason: "side photo shows a front pose",
		},
		"outfit change": {
			mutate: func(p *fakePhotos, urls map[string]string) { p.objects[urls["back"]].Outfit = "grey-leggings" },
			reason: "outfit differs between angles",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			photos, urls := goodPhotos()
			tc.mutate(photos, urls)
			result, err := newChecker(photos).CheckQuality(context.Background(), urls)
			require.NoError(t, err)
			assert.False(t, result.Passed)
			assert.Contains(t, result.Reasons, tc.reason)
		})
	}
}

func TestUnknownMetadataIsNotARejection(t *testing.T) {
	photos, urls := goodPhotos()
	for _, info := range photos.objects {
		info.Width, info.Height, info.Brightness, info.Pose, info.Outfit = 0, 0, nil, "", ""
	}
	result, err := newChecker(photos).CheckQuality(context.Background(), urls)
	require.NoError(t, err)
	assert.True(t, result.Passed, "reasons: %v", result.Reasons)
}

func TestStorageFailureIsTransient(t *testing.T) {
	_, urls := goodPhotos()
	_, err := newChecker(&fakePhotos{err: errors.New("connection reset")}).CheckQuality(context.Background(), urls)
	require.Error(t, err)
	assert.True(t, services.IsRetryable(err))
}

func TestRunRejectionIsTerminalWithRetakeReason(t *testing.T) {
	photos, urls := goodPhotos()
	photos.objects[urls["front"]].Size = 10
	checker := newChecker(photos)

	patch, err := checker.Run(context.Background(), &scan.Scan{AngleURLs: urls})
	require.NoError(t, err)
	require.NoError(t, patch.Validate())
	require.NotNil(t, patch.Status)
	assert.Equal(t, scan.StatusQCFailed, *patch.Status)
	require.NotNil(t, patch.Failure)
	assert.True(t, strings.HasPrefix(patch.Failure.Reason, "retake photos: "))
	assert.Equal(t, string(services.KindBusinessRejection), patch.Failure.Kind)
	assert.False(t, patch.QC.Passed)
}

func TestRunPassSetsQCPassed(t *testing.T) {
	photos, urls := goodPhotos()
	patch, err := newChecker(photos).Run(context.Background(), &scan.Scan{AngleURLs: urls})
	require.NoError(t, err)
	assert.Equal(t, scan.StatusQCPassed, *patch.Status)
	assert.Nil(t, patch.Failure)
	assert.Equal(t, []scan.Stage{scan.StageVisionQC}, patch.FieldGroups())
}
