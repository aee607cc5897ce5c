// Package config loads and validates the Configuration options enumerated
// by the persistence, docker, and release-store layers, following the
// teacher's cmd/root.go viper wiring: a config file at $HOME/.butido.yaml
// (overridable with --config), overlaid with BUTIDO_-prefixed environment
// variables, overlaid with explicit flag bindings.
package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/buildorch/butido/endpoint"
)

// ConfigError reports missing or contradictory configuration. It is fatal
// at startup.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// ImageSet maps a short image name (as given to `build --image`) to the
// fully qualified image reference the docker endpoint is told to run.
type ImageSet map[string]string

// EndpointDescriptor is the config-file shape of one docker.endpoints
// entry, translated into an endpoint.Config once DockerVersions/
// DockerAPIVersions are resolved against the image set.
type EndpointDescriptor struct {
	Host        string `mapstructure:"host"`
	MaxInFlight int    `mapstructure:"max_in_flight"`
}

// Configuration is the fully resolved, validated set of options spec.md
// §5 enumerates: database_default_query_limit, releases_directory,
// script_highlight_theme, and the docker.* endpoint/image/version sets.
type Configuration struct {
	DatabaseDSN                string
	DatabaseDefaultQueryLimit  int
	ReleasesDirectory          string
	ReleasesCompress           bool
	ScriptHighlightTheme       string
	DockerEndpoints            map[string]EndpointDescriptor
	DockerImages               ImageSet
	DockerVersions             []string
	DockerAPIVersions          []string
}

// Load reads a Configuration from v, which the caller has already pointed
// at a config file and/or environment prefix (see New). It validates
// every field spec.md §5 calls "enumerated options" and returns a
// *ConfigError on the first violation.
func Load(v *viper.Viper) (*Configuration, error) {
	cfg := &Configuration{
		DatabaseDSN:               v.GetString("database.dsn"),
		DatabaseDefaultQueryLimit: v.GetInt("database_default_query_limit"),
		ReleasesDirectory:         v.GetString("releases_directory"),
		ReleasesCompress:          v.GetBool("releases_compress"),
		ScriptHighlightTheme:      v.GetString("script_highlight_theme"),
		DockerVersions:            v.GetStringSlice("docker.docker_versions"),
		DockerAPIVersions:         v.GetStringSlice("docker.docker_api_versions"),
	}

	if cfg.DatabaseDefaultQueryLimit < 0 {
		return nil, &ConfigError{"database_default_query_limit", "must be a non-negative integer (0 = unbounded)"}
	}
	if cfg.ReleasesDirectory == "" {
		return nil, &ConfigError{"releases_directory", "must be set"}
	}
	if cfg.DatabaseDSN == "" {
		return nil, &ConfigError{"database.dsn", "must be set"}
	}

	endpoints := make(map[string]EndpointDescriptor)
	raw := v.GetStringMap("docker.endpoints")
	if len(raw) == 0 {
		return nil, &ConfigError{"docker.endpoints", "must configure at least one endpoint"}
	}
	for name := range raw {
		var ed EndpointDescriptor
		if err := v.UnmarshalKey("docker.endpoints."+name, &ed); err != nil {
			return nil, &ConfigError{"docker.endpoints." + name, err.Error()}
		}
		if ed.Host == "" {
			return nil, &ConfigError{"docker.endpoints." + name, "host must be set"}
		}
		endpoints[name] = ed
	}
	cfg.DockerEndpoints = endpoints

	images := make(ImageSet)
	if err := v.UnmarshalKey("docker.images", &images); err != nil {
		return nil, &ConfigError{"docker.images", err.Error()}
	}
	if len(images) == 0 {
		return nil, &ConfigError{"docker.images", "must configure at least one allowed image"}
	}
	cfg.DockerImages = images

	return cfg, nil
}

// New builds a viper.Viper the way the teacher's initViper does: a named
// config file under $HOME, a BUTIDO_ environment prefix with "." and "-"
// folded to "_" so docker.docker-versions and BUTIDO_DOCKER_DOCKER_VERSIONS both
// resolve to the same key, and an optional explicit --config override.
func New(cfgFile string) *viper.Viper {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".butido")
		v.AddConfigPath("$HOME")
	}
	v.SetEnvPrefix("BUTIDO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// ResolveImage expands a short image name against the configured image
// set, per spec.md §5's "short-name expansion". An unlisted name is
// passed through unchanged, letting operators reference a fully
// qualified image directly without a docker.images entry.
func (i ImageSet) ResolveImage(short string) string {
	if full, ok := i[short]; ok {
		return full
	}
	return short
}

// EndpointConfigs translates the validated docker.endpoints/images/
// docker_versions/docker_api_versions sections into endpoint.Config
// values ready for endpoint.SetupEndpoints, carrying every configured
// image forward as each endpoint's required-image set. Endpoints are
// emitted sorted by name: DockerEndpoints is a map, and Pool.order (and so
// Choose's declared-order tie-break) must be reproducible run-to-run.
func (c *Configuration) EndpointConfigs() []endpoint.Config {
	requiredImages := make([]string, 0, len(c.DockerImages))
	for _, full := range c.DockerImages {
		requiredImages = append(requiredImages, full)
	}

	names := make([]string, 0, len(c.DockerEndpoints))
	for name := range c.DockerEndpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	configs := make([]endpoint.Config, 0, len(names))
	for _, name := range names {
		ed := c.DockerEndpoints[name]
		maxInFlight := ed.MaxInFlight
		if maxInFlight <= 0 {
			maxInFlight = 1
		}
		configs = append(configs, endpoint.Config{
			Name:                name,
			Host:                ed.Host,
			RequiredImages:      requiredImages,
			RequiredDockerVers:  c.DockerVersions,
			RequiredAPIVersions: c.DockerAPIVersions,
			MaxInFlight:         maxInFlight,
		})
	}
	return configs
}
