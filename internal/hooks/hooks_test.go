package hooks_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pydpiper-go/pydpiperd/internal/hooks"
)

func TestRecomputeMemoryInvokesEstimator(t *testing.T) {
	h := hooks.NewRecomputeMemory(func() (float64, error) { return 4.5, nil })
	assert.Equal(t, hooks.RecomputeMemory, h.Kind())

	gb, err := h.RecomputeMemory()
	require.NoError(t, err)
	assert.Equal(t, 4.5, gb)
}

func TestRecomputeMemoryRejectsWrongKind(t *testing.T) {
	h := hooks.NewEmitVerificationImage(func() (string, error) { return "", nil })
	_, err := h.RecomputeMemory()
	assert.Error(t, err)
}

func TestEmitVerificationImageInvokesEmitter(t *testing.T) {
	h := hooks.NewEmitVerificationImage(func() (string, error) { return "/tmp/qc.png", nil })
	assert.Equal(t, hooks.EmitVerificationImage, h.Kind())

	path, err := h.EmitVerificationImage()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/qc.png", path)
}

func TestRegisterFollowupStageInvokesRegistrar(t *testing.T) {
	want := []hooks.FollowupStage{{ID: "qc-1", Command: []string{"qc"}, MemGB: 1}}
	h := hooks.NewRegisterFollowupStage(func() ([]hooks.FollowupStage, error) { return want, nil })
	assert.Equal(t, hooks.RegisterFollowupStage, h.Kind())

	got, err := h.RegisterFollowupStage()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRegisterFollowupStageRejectsWrongKind(t *testing.T) {
	h := hooks.NewRecomputeMemory(func() (float64, error) { return 0, nil })
	_, err := h.RegisterFollowupStage()
	assert.Error(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "recompute-memory", hooks.RecomputeMemory.String())
	assert.Equal(t, "emit-verification-image", hooks.EmitVerificationImage.String())
	assert.Equal(t, "register-followup-stage", hooks.RegisterFollowupStage.String())
	assert.Equal(t, "unknown", hooks.Kind(99).String())
}
