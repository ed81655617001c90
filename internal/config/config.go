// Package config provides configuration types and loading for skippy.
package config

// Config is the root configuration struct, loaded from ~/.Skippy/Skippy.json.
// Top-level groups: Discord, Ollama, Prompt, Memory, Tools.
type Config struct {
	LogLevel string        `json:"log_level" envconfig:"LOG_LEVEL"`
	Discord  DiscordConfig `json:"discord"`
	Ollama   OllamaConfig  `json:"ollama"`
	Prompt   PromptConfig  `json:"prompt"`
	Memory   MemoryConfig  `json:"memory"`
	Tools    ToolsConfig   `json:"tools"`
}

// ---------------------------------------------------------------------------
// Discord – chat platform
// ---------------------------------------------------------------------------

// DiscordConfig configures the Discord gateway.
type DiscordConfig struct {
	Token               string `json:"token" envconfig:"DISCORD_TOKEN"`
	GuildID             string `json:"guildId" envconfig:"DISCORD_GUILD_ID"`
	MessageHistoryLimit int    `json:"messageHistoryLimit" envconfig:"DISCORD_HISTORY_LIMIT"`
	DefaultUser         string `json:"default_user" envconfig:"DISCORD_DEFAULT_USER"`
}

// ---------------------------------------------------------------------------
// Ollama – LLM endpoint
// ---------------------------------------------------------------------------

// OllamaConfig configures the LLM client. Timeouts are in seconds.
type OllamaConfig struct {
	Host                    string `json:"host" envconfig:"OLLAMA_HOST"`
	APIKey                  string `json:"apiKey" envconfig:"OLLAMA_API_KEY"`
	Model                   string `json:"model" envconfig:"OLLAMA_MODEL"`
	Timeout                 int    `json:"timeout" envconfig:"OLLAMA_TIMEOUT"`
	StreamInactivityTimeout int    `json:"stream_inactivity_timeout" envconfig:"OLLAMA_STREAM_INACTIVITY_TIMEOUT"`
	MaxRetries              int    `json:"max_retries" envconfig:"OLLAMA_MAX_RETRIES"`
	// ContextWindow overrides the context length detected at startup
	// via model introspection. Zero means use the detected value.
	ContextWindow int `json:"context_window,omitempty" envconfig:"OLLAMA_CONTEXT_WINDOW"`
}

// ---------------------------------------------------------------------------
// Prompt – agentic loop behaviour
// ---------------------------------------------------------------------------

// PromptConfig configures the prompt orchestrator.
type PromptConfig struct {
	LoopLimit int `json:"loop_limit" envconfig:"LOOP_LIMIT"`
	// EnforceBudget makes the per-iteration token estimate a hard gate
	// instead of an observable. Off by default; when the estimate
	// exceeds the context window only a warning is logged.
	EnforceBudget bool `json:"enforce_budget,omitempty" envconfig:"ENFORCE_BUDGET"`
}

// ---------------------------------------------------------------------------
// Memory – context injection
// ---------------------------------------------------------------------------

// MemoryConfig configures memory auto-injection.
type MemoryConfig struct {
	// ContextCategories lists memory categories injected into every
	// prompt's system block, in order.
	ContextCategories []string `json:"context_categories"`
}

// ---------------------------------------------------------------------------
// Tools – tool-specific behaviour
// ---------------------------------------------------------------------------

// ToolsConfig contains tool-specific settings.
type ToolsConfig struct {
	Shell     ShellToolConfig     `json:"shell"`
	WebSearch WebSearchToolConfig `json:"web_search"`
	Weather   WeatherToolConfig   `json:"weather"`
}

// ShellToolConfig contains bash tool settings.
type ShellToolConfig struct {
	// Unsafe permits running the unsandboxed shell tool as root.
	// Without it the daemon refuses to start when euid is 0.
	Unsafe  bool `json:"unsafe" envconfig:"SHELL_UNSAFE"`
	Timeout int  `json:"timeout" envconfig:"SHELL_TIMEOUT"`
}

// WebSearchToolConfig contains web search settings.
type WebSearchToolConfig struct {
	APIKey     string `json:"apiKey" envconfig:"BRAVE_API_KEY"`
	MaxResults int    `json:"maxResults"`
}

// WeatherToolConfig contains weather tool settings.
type WeatherToolConfig struct {
	DefaultLocation string `json:"defaultLocation"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Discord: DiscordConfig{
			MessageHistoryLimit: 20,
		},
		Ollama: OllamaConfig{
			Host:                    "http://127.0.0.1:11434",
			Model:                   "qwen3:32b",
			Timeout:                 600,
			StreamInactivityTimeout: 120,
			MaxRetries:              3,
		},
		Prompt: PromptConfig{
			LoopLimit: 15,
		},
		Memory: MemoryConfig{
			ContextCategories: []string{"general", "preferences"},
		},
		Tools: ToolsConfig{
			Shell: ShellToolConfig{
				Timeout: 300,
			},
			WebSearch: WebSearchToolConfig{
				MaxResults: 10,
			},
		},
	}
}
