package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/shirou/gopsutil/v3/cpu"
)

// EnvOptions are the build knobs read from the environment rather
// than the config file, so they can vary per invocation.
type EnvOptions struct {
	Jobs       int    `env:"STELA_JOBS"`
	KeepFailed bool   `env:"STELA_KEEP_FAILED"`
	Debug      bool   `env:"STELA_DEBUG"`
	LogLevel   string `env:"STELA_LOG_LEVEL" envDefault:"info"`
}

func LoadEnvOptions() (*EnvOptions, error) {
	var opts EnvOptions

	err := env.Parse(&opts)
	if err != nil {
		return nil, err
	}

	return &opts, nil
}

// JobCount resolves the parallelism to use for build phases: the
// explicit setting when given, otherwise the logical CPU count.
func (o *EnvOptions) JobCount() int {
	if o.Jobs > 0 {
		return o.Jobs
	}

	count, err := cpu.Counts(true)
	if err != nil || count < 1 {
		return 1
	}

	return count
}
