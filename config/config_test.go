package config

import (
	"testing"

	"github.com/spf13/viper"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.Set("database.dsn", "postgres://localhost/butido")
	v.Set("database_default_query_limit", 50)
	v.Set("releases_directory", "/var/lib/butido/releases")
	v.Set("docker.docker_versions", []string{"20.10"})
	v.Set("docker.docker_api_versions", []string{"1.41"})
	v.Set("docker.images", map[string]interface{}{"xenial": "ubuntu:16.04"})
	v.Set("docker.endpoints", map[string]interface{}{
		"local": map[string]interface{}{"host": "unix:///var/run/docker.sock", "max_in_flight": 4},
	})
	return v
}

func TestLoadValid(t *testing.T) {
	cfg, err := Load(newTestViper(t))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.DatabaseDefaultQueryLimit)
	assert.Equal(t, "ubuntu:16.04", cfg.DockerImages.ResolveImage("xenial"), "expected short-name expansion")
	assert.Equal(t, "ubuntu:22.04", cfg.DockerImages.ResolveImage("ubuntu:22.04"), "expected unlisted image name to pass through unchanged")
	assert.Len(t, cfg.DockerEndpoints, 1)
	assert.False(t, cfg.ReleasesCompress, "expected releases_compress to default false")
}

func TestLoadReleasesCompress(t *testing.T) {
	v := newTestViper(t)
	v.Set("releases_compress", true)
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.True(t, cfg.ReleasesCompress)
}

func TestLoadMissingReleasesDirectory(t *testing.T) {
	v := newTestViper(t)
	v.Set("releases_directory", "")
	_, err := Load(v)
	assert.Error(t, err, "expected ConfigError for missing releases_directory")
}

func TestLoadNegativeQueryLimit(t *testing.T) {
	v := newTestViper(t)
	v.Set("database_default_query_limit", -1)
	_, err := Load(v)
	assert.Error(t, err, "expected ConfigError for negative query limit")
}

func TestLoadNoEndpoints(t *testing.T) {
	v := newTestViper(t)
	v.Set("docker.endpoints", map[string]interface{}{})
	_, err := Load(v)
	assert.Error(t, err, "expected ConfigError for empty endpoint set")
}

func TestEndpointConfigsCarriesImages(t *testing.T) {
	cfg, err := Load(newTestViper(t))
	require.NoError(t, err)
	configs := cfg.EndpointConfigs()
	require.Len(t, configs, 1)
	ec := configs[0]
	assert.Equal(t, "local", ec.Name)
	assert.Equal(t, "unix:///var/run/docker.sock", ec.Host)
	assert.Equal(t, 4, ec.MaxInFlight)
	assert.Equal(t, []string{"ubuntu:16.04"}, ec.RequiredImages)
}
