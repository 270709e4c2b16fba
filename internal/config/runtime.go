package config

import (
	"fmt"

	"github.com/michaelbrown/playground/internal/sandbox"
	"github.com/michaelbrown/playground/internal/sandbox/docker"
	"github.com/michaelbrown/playground/internal/sandbox/jsvm"
	"github.com/michaelbrown/playground/internal/sandbox/local"
)

// NewRuntime builds the sandbox runtime selected by sandbox.backend.
func (c *Config) NewRuntime() (sandbox.Runtime, error) {
	policy := c.Policy()
	switch c.Sandbox.Backend {
	case BackendJSVM:
		return jsvm.New(policy), nil
	case BackendDocker:
		return docker.New(c.Sandbox.Image, policy), nil
	case BackendLocal:
		return local.New(policy), nil
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", c.Sandbox.Backend)
	}
}
