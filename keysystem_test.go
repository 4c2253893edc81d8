package eme

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupportedConfigurations(t *testing.T) {
	audioCodecs := []string{"mp4a.40.2"}
	videoCodecs := []string{"avc1.640028", "avc1.42e01e"}

	for _, keySystem := range []KeySystem{Widevine, FairPlay} {
		configs, err := supportedConfigurations(keySystem, audioCodecs, videoCodecs)
		require.NoError(t, err, keySystem)
		require.NotEmpty(t, configs, keySystem)

		assert.Len(t, configs[0].VideoCapabilities, len(videoCodecs), keySystem)
		assert.Len(t, configs[0].AudioCapabilities, len(audioCodecs), keySystem)
		assert.Equal(t, `video/mp4; codecs="avc1.640028"`, configs[0].VideoCapabilities[0].ContentType)
	}
}

func TestSupportedConfigurationsInitDataTypes(t *testing.T) {
	configs, err := supportedConfigurations(FairPlay, nil, []string{"avc1.640028"})
	require.NoError(t, err)
	assert.Equal(t, []string{InitDataTypeSinf}, configs[0].InitDataTypes)

	configs, err = supportedConfigurations(Widevine, nil, []string{"avc1.640028"})
	require.NoError(t, err)
	assert.Equal(t, []string{InitDataTypeCenc}, configs[0].InitDataTypes)
}

func TestSupportedConfigurationsUnsupported(t *testing.T) {
	configs, err := supportedConfigurations("com.example.drm", nil, []string{"avc1.640028"})
	assert.True(t, errors.Is(err, ErrUnsupportedKeySystem))
	assert.Nil(t, configs)
}
