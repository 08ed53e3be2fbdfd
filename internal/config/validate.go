package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(strings.TrimSpace(c.Paths.DataDir)); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.DataDir == "" {
		if c.Paths.DataDir, err = expandPath(defaultDataDir); err != nil {
			return fmt.Errorf("paths.data_dir: %w", err)
		}
	}

	c.Backend.URL = strings.TrimRight(strings.TrimSpace(c.Backend.URL), "/")
	c.Backend.Variant = strings.ToLower(strings.TrimSpace(c.Backend.Variant))
	if c.Backend.Variant == "" {
		c.Backend.Variant = defaultVariant
	}
	c.Backend.ClipsPath = normalizeRoutePath(c.Backend.ClipsPath, defaultClipsPath)
	c.Backend.ProcessPath = normalizeRoutePath(c.Backend.ProcessPath, defaultProcessPath)

	exts := make([]string, 0, len(c.Upload.AllowedExtensions))
	for _, ext := range c.Upload.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	c.Upload.AllowedExtensions = exts

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	return nil
}

func normalizeRoutePath(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		value = fallback
	}
	if !strings.HasPrefix(value, "/") {
		value = "/" + value
	}
	return strings.TrimRight(value, "/")
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return errors.New("backend.url must be set")
	}
	parsed, err := url.Parse(c.Backend.URL)
	if err != nil {
		return fmt.Errorf("backend.url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("backend.url must use http or https, got %q", c.Backend.URL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("backend.url must include a host, got %q", c.Backend.URL)
	}
	switch c.Backend.Variant {
	case VariantStreamed, VariantSync:
	default:
		return fmt.Errorf("backend.variant must be %q or %q, got %q", VariantStreamed, VariantSync, c.Backend.Variant)
	}
	if c.Backend.TimeoutSeconds <= 0 {
		return errors.New("backend.timeout_seconds must be positive")
	}
	if c.Upload.MaxFileBytes < 0 {
		return errors.New("upload.max_file_bytes must not be negative")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535, got %d", c.API.Port)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}
