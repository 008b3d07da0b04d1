package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStage_String(t *testing.T) {
	tests := []struct {
		stage    Stage
		expected string
	}{
		{StageConfig, "config"},
		{StageFetch, "fetch"},
		{StageDigestStore, "digest_store"},
		{StageParse, "parse"},
		{StageMapping, "mapping"},
		{StageWrite, "write"},
		{StageDistribution, "distribution"},
		{Stage(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.stage.String())
		})
	}
}

func TestStageError_IsMatchesOwnSentinelOnly(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(StageFetch, "http://misp.example/events/xml/download", cause)

	assert.ErrorIs(t, err, ErrFetch)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrParse)
	assert.NotErrorIs(t, err, ErrDistribution)
	assert.Equal(t, "fetch http://misp.example/events/xml/download: connection refused", err.Error())
}

func TestWrap_Nil(t *testing.T) {
	assert.NoError(t, Wrap(StageParse, "x", nil))
	assert.NoError(t, Wrapf(StageParse, "x", nil, "decode"))
}

func TestWrapf(t *testing.T) {
	err := Wrapf(StageDigestStore, "tmp/misp-export.sha256", errors.New("permission denied"), "save digest")
	assert.Equal(t, "digest_store tmp/misp-export.sha256: save digest: permission denied", err.Error())
	assert.ErrorIs(t, err, ErrDigestStore)
}

func TestStageOf(t *testing.T) {
	inner := Wrap(StageDistribution, "sensor-1", errors.New("exit status 255"))
	outer := fmt.Errorf("run: %w", inner)

	assert.Equal(t, StageDistribution, StageOf(outer))
	assert.Equal(t, "sensor-1", ResourceOf(outer))
	assert.Equal(t, StageUnknown, StageOf(errors.New("plain")))
	assert.Empty(t, ResourceOf(nil))
}

func TestStageError_NoResource(t *testing.T) {
	err := Wrap(StageConfig, "", errors.New("misp.host is required"))
	assert.Equal(t, "config: misp.host is required", err.Error())
}
