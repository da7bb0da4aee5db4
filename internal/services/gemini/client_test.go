package gemini

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"scanpipe/internal/photostore"
	"scanpipe/internal/scan"
	"scanpipe/internal/services"
)

type fakeModel struct {
	parts []genai.Part
	reply string
	err   error
}

func (f *fakeModel) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = parts
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []genai.Part{genai.Text(f.reply)}}}},
	}, nil
}

func writePhotos(t *testing.T) (string, map[string]string) {
	t.Helper()
	root := t.TempDir()
	angles := map[string]string{}
	for _, name := range []string{"front", "side", "back"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name+".jpg"), []byte("jpeg-"+name), 0o644))
		angles[name] = "file://" + name + ".jpg"
	}
	return root, angles
}

func TestEstimateSendsEveryAngle(t *testing.T) {
	root, angles := writePhotos(t)
	vision := &fakeModel{reply: "```json\n{\"bodyFatPercent\":18.2,\"leanMassKg\":64.1,\"confidence\":0.9}\n```"}
	client := &Client{vision: vision, photos: &photostore.Local{Root: root}, visionModel: "gemini-2.0-flash"}

	prior := &scan.BodyEstimate{BodyFatPercent: 18.9, LeanMassKg: 64, WeightKg: 79}
	est, err := client.Estimate(context.Background(), angles, prior)
	require.NoError(t, err)
	assert.InDelta(t, 18.2, est.BodyFatPercent, 1e-9)
	assert.True(t, est.UsedPrior)
	assert.Equal(t, "gemini-2.0-flash", est.Model)

	var images int
	for _, part := range vision.parts {
		if blob, ok := part.(genai.Blob); ok {
			images++
			assert.Equal(t, "image/jpeg", blob.MIMEType)
		}
	}
	assert.Equal(t, 3, images)
	prompt, ok := vision.parts[0].(genai.Text)
	require.True(t, ok)
	assert.Contains(t, string(prompt), "18.9% body fat")
}

func TestEstimateMissingFieldsIsValidation(t *testing.T) {
	root, angles := writePhotos(t)
	client := &Client{vision: &fakeModel{reply: `{"bodyFatPercent":18.2}`}, photos: &photostore.Local{Root: root}}
	_, err := client.Estimate(context.Background(), angles, nil)
	assert.Equal(t, services.KindValidation, services.KindOf(err))
}

func TestEstimateMissingPhotoIsInvalidInput(t *testing.T) {
	client := &Client{vision: &fakeModel{}, photos: &photostore.Local{Root: t.TempDir()}}
	_, err := client.Estimate(context.Background(), map[string]string{"front": "file://nope.jpg"}, nil)
	assert.Equal(t, services.KindInvalidInput, services.KindOf(err))
}

func TestGenerateCleansText(t *testing.T) {
	text := &fakeModel{reply: "\"Solid first scan.  Keep going.\""}
	client := &Client{text: text}
	out, err := client.Generate(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "Solid first scan. Keep going.", out)
	require.Len(t, text.parts, 2)
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	cases := map[string]struct {
		err  error
		kind services.ErrorKind
	}{
		"quota":       {status.Error(codes.ResourceExhausted, "quota"), services.KindTransient},
		"unavailable": {status.Error(codes.Unavailable, "down"), services.KindTransient},
		"auth":        {status.Error(codes.PermissionDenied, "nope"), services.KindConfiguration},
		"http 503":    {&googleapi.Error{Code: http.StatusServiceUnavailable}, services.KindTransient},
		"http 400":    {&googleapi.Error{Code: http.StatusBadRequest}, services.KindInvalidInput},
		"blocked":     {&genai.BlockedError{}, services.KindValidation},
		"unknown":     {errors.New("boom"), services.KindTransient},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.kind, services.KindOf(classify(ctx, "generate", tc.err)))
		})
	}
}

func TestModelNameStripsVendorPrefix(t *testing.T) {
	assert.Equal(t, "gemini-3-flash-preview", modelName("google/gemini-3-flash-preview"))
	assert.Equal(t, defaultModel, modelName(""))
	assert.True(t, strings.HasPrefix(imageFormat("image/png"), "png"))
	assert.Equal(t, "jpeg", imageFormat("application/octet-stream"))
}
