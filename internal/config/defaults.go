package config

const (
	defaultConfigPath     = "~/.config/clipflow/config.toml"
	defaultBackendURL     = "http://127.0.0.1:8000"
	defaultVariant        = VariantStreamed
	defaultTimeoutSeconds = 600
	defaultClipsPath      = "/api/clips"
	defaultProcessPath    = "/api/process"
	defaultMaxFileBytes   = 500 * 1024 * 1024 // 500MB, matches the backend limit
	defaultDataDir        = "~/.local/share/clipflow"
	defaultPort           = 8788
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
)

// defaultAllowedExtensions mirrors the extensions the backend accepts.
var defaultAllowedExtensions = []string{".mp4", ".avi", ".mov", ".mkv", ".wmv", ".flv", ".webm"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Backend: Backend{
			URL:            defaultBackendURL,
			Variant:        defaultVariant,
			TimeoutSeconds: defaultTimeoutSeconds,
			ClipsPath:      defaultClipsPath,
			ProcessPath:    defaultProcessPath,
		},
		Upload: Upload{
			MaxFileBytes:      defaultMaxFileBytes,
			AllowedExtensions: append([]string(nil), defaultAllowedExtensions...),
		},
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		API: API{
			Port: defaultPort,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
