package config

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			DataDir:  "~/.pdfrelay",
		},
		Transport: TransportConfig{
			Kind: "whatsapp",
			WhatsApp: WhatsAppConfig{
				SessionDB: "~/.pdfrelay/whatsapp.db",
			},
			Telegram: TelegramConfig{
				ParseMode: "Markdown",
			},
		},
		Relay: RelayConfig{
			WebhookURL:     "https://your-n8n-webhook-url.com",
			TimeoutSeconds: 30,
		},
		Extractor: ExtractorConfig{
			Sections:     false,
			KeepTempCopy: false,
		},
		TempStore: TempStoreConfig{
			RetentionMinutes:     60,
			StaleAfterMinutes:    120,
			SweepIntervalMinutes: 60,
		},
		Bot: BotConfig{
			StartCommand: "/start",
		},
		Dedup: DedupConfig{
			Backend:    "memory",
			TTLMinutes: 24 * 60,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    3000,
		},
	}
}
