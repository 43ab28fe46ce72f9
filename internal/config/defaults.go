package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:        "info",
			DefaultProvider: "openai",
		},
		Server: ServerConfig{
			Host:                   "127.0.0.1",
			Port:                   3001,
			AllowedOrigins:         []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMinute:     60,
			RateLimitBurst:         10,
			MaxBodyBytes:           1 << 20,
			ShutdownTimeoutSeconds: 10,
		},
		Storage: StorageConfig{
			ConversationPath: "./database/conversation.json",
		},
		Assistant: AssistantConfig{
			Name:           "Curiosity",
			Principles:     defaultPrinciples(),
			MaxTokens:      1000,
			Temperature:    0.7,
			HistoryLimit:   20,
			TimeoutSeconds: 60,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled:      true,
				APIBase:      "https://api.openai.com/v1",
				DefaultModel: "gpt-4o",
			},
			"ollama": {
				Enabled:      false,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Client: ClientConfig{
			ServerURL:        "http://localhost:3001/api",
			Author:           "user",
			BackupPath:       "~/.curiosity/backup.db",
			TimeoutSeconds:   10,
			ScrollDebounceMs: 100,
			ScrollSettleMs:   10,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

func defaultPrinciples() []string {
	return []string{
		"Curiosity: ask questions that open the conversation up instead of closing it down.",
		"Empathy: notice how the other person feels and respond to that, not only to their words.",
		"Resilience: stay steady when the conversation gets difficult.",
		"Critical thinking: weigh claims, including your own, before accepting them.",
		"Openness to change: let a good argument change your mind.",
	}
}
