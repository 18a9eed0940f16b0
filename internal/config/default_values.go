package config

const (
	DefaultRuntimeMaxSteps          = 128
	DefaultRuntimeContextTokenLimit = 32000
	DefaultToolResultTokenLimit     = 6000
	DefaultSubagentTimeoutMS        = 10 * 60 * 1000

	DefaultCompactionThreshold      = 0.8
	DefaultCompactionRecentMessages = 12

	ProjectConfigFile = "deepagent.config.json"
	ProjectConfigDir  = ".deepagent"
)
