// Package config loads pydpiperd's configuration from flags, the
// environment, and a config file, in that precedence order, via viper — the
// same stack the teacher uses for its own configuration loader.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment-variable prefix (PYDPIPER_*) viper binds
// automatically.
const EnvPrefix = "PYDPIPER"

// ConfigFileEnvVar names the environment variable that, if set, points
// viper directly at a config file, bypassing its search path.
const ConfigFileEnvVar = "PYDPIPER_CONFIG_FILE"

// Config holds every option shared across the server, executor, and
// status CLI commands.
type Config struct {
	// ServerAddr is the gRPC listen address ("server") or dial address
	// ("executor"/"status").
	ServerAddr string
	HTTPAddr   string

	// MemoryGB is the total memory this process (server-local executor,
	// or a standalone executor) declares.
	MemoryGB float64
	// MemRequestVariable is the batch-system resource variable name for
	// memory requests (default "mem").
	MemRequestVariable string
	// ParallelEnvironment is the SGE "-pe" name.
	ParallelEnvironment string
	// Greedy runs one stage at a time using the full memory allotment.
	Greedy bool

	LatencyTolerance   time.Duration
	ExecutorStartDelay time.Duration

	// NumExecutors is how many local executors the server auto-launches.
	NumExecutors int
	// MaxFailedExecutors stops auto-launch once this many auto-launched
	// executors have exited (cleanly or not) or failed to start.
	MaxFailedExecutors int

	// LSQ12MaxPairs bounds a domain stage-builder parameter carried
	// through unmodified; the core scheduler does not interpret it.
	LSQ12MaxPairs int

	Debug     bool
	LogFormat string
}

// defaults mirrors spec.md §4.4/§4.5's stated defaults.
func defaults() Config {
	return Config{
		ServerAddr:          "127.0.0.1:9090",
		MemRequestVariable:  "mem",
		LatencyTolerance:    10 * time.Minute,
		ExecutorStartDelay:  10 * time.Minute,
		NumExecutors:        1,
		MaxFailedExecutors:  3,
		LogFormat:           "text",
	}
}

// Load builds a Config from viper's merged flag/file/env view. Callers
// bind cobra flags into v before calling Load (see internal/cmd).
func Load(v *viper.Viper) (*Config, error) {
	cfg := defaults()

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if file := os.Getenv(ConfigFileEnvVar); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	if v.IsSet("server-addr") {
		cfg.ServerAddr = v.GetString("server-addr")
	}
	if v.IsSet("http-addr") {
		cfg.HTTPAddr = v.GetString("http-addr")
	}
	if v.IsSet("mem") {
		cfg.MemoryGB = v.GetFloat64("mem")
	}
	if v.IsSet("mem-request-variable") {
		cfg.MemRequestVariable = v.GetString("mem-request-variable")
	}
	if v.IsSet("pe") {
		cfg.ParallelEnvironment = v.GetString("pe")
	}
	if v.IsSet("greedy") {
		cfg.Greedy = v.GetBool("greedy")
	}
	if v.IsSet("latency-tolerance") {
		cfg.LatencyTolerance = v.GetDuration("latency-tolerance")
	}
	if v.IsSet("executor-start-delay") {
		cfg.ExecutorStartDelay = v.GetDuration("executor-start-delay")
	}
	if v.IsSet("num-exec") {
		cfg.NumExecutors = v.GetInt("num-exec")
	}
	if v.IsSet("max-failed-executors") {
		cfg.MaxFailedExecutors = v.GetInt("max-failed-executors")
	}
	if v.IsSet("lsq12-max-pairs") {
		cfg.LSQ12MaxPairs = v.GetInt("lsq12-max-pairs")
	}
	if v.IsSet("debug") {
		cfg.Debug = v.GetBool("debug")
	}
	if v.IsSet("log-format") {
		cfg.LogFormat = v.GetString("log-format")
	}

	return &cfg, nil
}
