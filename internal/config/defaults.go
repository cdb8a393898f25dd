package config

// Defaults returns the configuration used when no file overrides it:
// Groq completion, Teams endpoint on the Bot Framework emulator port,
// CLI enabled for local chat.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			MaxConcurrentMessages: 5,
			BusBufferSize:         100,
		},
		Provider: ProviderConfig{
			Name:        "groq",
			APIBase:     "https://api.groq.com/openai/v1",
			APIKey:      "", // falls back to GROQ_API_KEY at startup
			Model:       "llama-3.1-8b-instant",
			Temperature: 0.7,
			TimeoutSecs: 60,
		},
		Channels: ChannelsConfig{
			Teams: TeamsConfig{
				Enabled: false,
				Port:    3978,
				Path:    "/api/messages",
			},
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
			Slack: SlackConfig{
				Enabled: false,
			},
			Discord: DiscordConfig{
				Enabled: false,
			},
			CLI: CLIConfig{
				Enabled: true,
			},
		},
		Routes: RoutesConfig{
			File: "", // built-in routes
		},
		Transcript: TranscriptConfig{
			Enabled: true,
			DBPath:  "~/.teamsbot/transcript.db",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Port:     9090,
			Endpoint: "/metrics",
		},
	}
}
