package config

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables forming the agent spawn contract. Spawned agents
// read these instead of relying on their working directory or any mutable
// global, so two agents for different users never share identity state.
const (
	// EnvRoot is the installation root path.
	EnvRoot = "CORTEX_ROOT"

	// EnvUser is the username whose profile the agent operates on.
	EnvUser = "CORTEX_USER"

	// EnvAgent is the agent's own name, used as its lock and registry key.
	EnvAgent = "CORTEX_AGENT"

	// EnvOneshot is set to "1" when the agent should run one work cycle
	// and exit instead of looping on its interval.
	EnvOneshot = "CORTEX_ONESHOT"
)

// AgentEnvConfig specifies the identity baked into a spawned agent's
// environment. This is the single source of truth for agent environment
// variables.
type AgentEnvConfig struct {
	// Root is the installation root. Sets CORTEX_ROOT.
	Root string

	// Username scopes the agent to one user's profile. Sets CORTEX_USER.
	Username string

	// AgentName is the agent's catalog name. Sets CORTEX_AGENT.
	AgentName string

	// Oneshot requests a single work cycle. Sets CORTEX_ONESHOT=1.
	Oneshot bool
}

// AgentEnv returns all environment variables for an agent based on the config.
func AgentEnv(cfg AgentEnvConfig) map[string]string {
	env := make(map[string]string)

	// Empty values are omitted rather than set to "", so they never
	// shadow inherited environment.
	if cfg.Root != "" {
		env[EnvRoot] = cfg.Root
	}
	if cfg.Username != "" {
		env[EnvUser] = cfg.Username
	}
	if cfg.AgentName != "" {
		env[EnvAgent] = cfg.AgentName
	}
	if cfg.Oneshot {
		env[EnvOneshot] = "1"
	}

	return env
}

// MergeEnv merges multiple environment maps, with later maps taking precedence.
func MergeEnv(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// EnvForExecCommand returns os.Environ() with the given env vars applied,
// replacing any inherited value for the same key. Replacement matters when
// the spawning process is itself running under CORTEX_* variables: a stale
// inherited value must never shadow the one being set.
func EnvForExecCommand(env map[string]string) []string {
	remaining := make(map[string]string, len(env))
	for k, v := range env {
		remaining[k] = v
	}

	var result []string
	for _, kv := range os.Environ() {
		replaced := false
		for k, v := range remaining {
			if strings.HasPrefix(kv, k+"=") {
				result = append(result, fmt.Sprintf("%s=%s", k, v))
				delete(remaining, k)
				replaced = true
				break
			}
		}
		if !replaced {
			result = append(result, kv)
		}
	}
	for k, v := range remaining {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}
