package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultConfigPath is where the JSON settings file is expected when
// AONLINE_CONFIG is not set.
const DefaultConfigPath = "/settings/config.json"

// DefaultUserAgent mimics a desktop browser; several providers refuse
// requests without one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36"

// Config holds all application configuration values for the resolver and
// streaming gateway. Durations are already parsed.
type Config struct {
	Port                int           `json:"port"`                // Listening port for the HTTP server
	PublicURL           string        `json:"publicURL"`           // Advertised base URL for gateway links (auto-detected when empty)
	SiteBaseURL         string        `json:"siteBaseURL"`         // Base URL of the video site being resolved
	UserAgent           string        `json:"userAgent"`           // User-Agent for page fetches and playback headers
	CacheDuration       time.Duration `json:"cacheDuration"`       // TTL of resolved stream lists
	QuickDeadline       time.Duration `json:"quickDeadline"`       // Budget for the quick resolution lane
	JoinWait            time.Duration `json:"joinWait"`            // How long a caller waits on the background job
	FinalDeadline       time.Duration `json:"finalDeadline"`       // Budget for the last direct resolution attempt
	FetchTimeout        time.Duration `json:"fetchTimeout"`        // Per page fetch timeout
	ProviderTimeout     time.Duration `json:"providerTimeout"`     // Budget for on-demand provider resolution at the gateway
	IframeFanout        int           `json:"iframeFanout"`        // Max nested iframes followed per provider page
	FastOptionLimit     int           `json:"fastOptionLimit"`     // Embed options considered by the quick lane
	PrewarmCount        int           `json:"prewarmCount"`        // Targets prewarmed per prewarm request
	PreferredServers    []string      `json:"preferredServers"`    // Server keywords sorted first
	Languages           []string      `json:"languages"`           // Allowed provider languages (empty = all)
	ServerExcludeRegex  string        `json:"serverExcludeRegex"`  // Provider servers matching this are skipped
	ProbeEnabled        bool          `json:"probeEnabled"`        // Verify candidates with a ranged request
	ProbeTTL            time.Duration `json:"probeTTL"`            // Memoization window of probe results
	ProbeTimeout        time.Duration `json:"probeTimeout"`        // Per probe request timeout
	WorkerThreads       int           `json:"workerThreads"`       // Background resolution workers
	MaxConnectionsToApp int           `json:"maxConnectionsToApp"` // Concurrent gateway sessions
	RequestsPerSecond   int           `json:"requestsPerSecond"`   // Outbound requests per second per host
	LogLevel            string        `json:"logLevel"`            // DEBUG, INFO, WARN or ERROR
	LogFile             string        `json:"logFile"`             // Optional rotating log file
	Debug               bool          `json:"debug"`               // Forces DEBUG logging
	ObfuscateUrls       bool          `json:"obfuscateUrls"`       // Obfuscate URLs in logs
}

// ConfigFile represents the JSON file structure. Duration fields are strings
// (e.g. "4500ms", "30m") parsed into time.Duration by convertFromFile.
type ConfigFile struct {
	Port                int      `json:"port"`
	PublicURL           string   `json:"publicURL"`
	SiteBaseURL         string   `json:"siteBaseURL"`
	UserAgent           string   `json:"userAgent"`
	CacheDuration       string   `json:"cacheDuration"`
	QuickDeadline       string   `json:"quickDeadline"`
	JoinWait            string   `json:"joinWait"`
	FinalDeadline       string   `json:"finalDeadline"`
	FetchTimeout        string   `json:"fetchTimeout"`
	ProviderTimeout     string   `json:"providerTimeout"`
	IframeFanout        int      `json:"iframeFanout"`
	FastOptionLimit     int      `json:"fastOptionLimit"`
	PrewarmCount        int      `json:"prewarmCount"`
	PreferredServers    []string `json:"preferredServers"`
	Languages           []string `json:"languages"`
	ServerExcludeRegex  string   `json:"serverExcludeRegex"`
	ProbeEnabled        bool     `json:"probeEnabled"`
	ProbeTTL            string   `json:"probeTTL"`
	ProbeTimeout        string   `json:"probeTimeout"`
	WorkerThreads       int      `json:"workerThreads"`
	MaxConnectionsToApp int      `json:"maxConnectionsToApp"`
	RequestsPerSecond   int      `json:"requestsPerSecond"`
	LogLevel            string   `json:"logLevel"`
	LogFile             string   `json:"logFile"`
	Debug               bool     `json:"debug"`
	ObfuscateUrls       bool     `json:"obfuscateUrls"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
)

// LoadConfig loads the configuration from file or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Reads AONLINE_CONFIG or /settings/config.json.
//   - Falls back to defaults if the file is missing or invalid.
//   - Applies environment overrides (PORT, PUBLIC_URL, LOG_LEVEL).
//   - Runs validation to ensure safe defaults.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	if configCache != nil {
		return configCache
	}

	configPath := os.Getenv("AONLINE_CONFIG")
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	applyEnv(config, os.Getenv)
	validateAndSetDefaults(config)

	configCache = config
	return config
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings.
// Empty duration strings are left at zero so validateAndSetDefaults fills them.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		Port:                cf.Port,
		PublicURL:           cf.PublicURL,
		SiteBaseURL:         cf.SiteBaseURL,
		UserAgent:           cf.UserAgent,
		IframeFanout:        cf.IframeFanout,
		FastOptionLimit:     cf.FastOptionLimit,
		PrewarmCount:        cf.PrewarmCount,
		PreferredServers:    cf.PreferredServers,
		Languages:           cf.Languages,
		ServerExcludeRegex:  cf.ServerExcludeRegex,
		ProbeEnabled:        cf.ProbeEnabled,
		WorkerThreads:       cf.WorkerThreads,
		MaxConnectionsToApp: cf.MaxConnectionsToApp,
		RequestsPerSecond:   cf.RequestsPerSecond,
		LogLevel:            cf.LogLevel,
		LogFile:             cf.LogFile,
		Debug:               cf.Debug,
		ObfuscateUrls:       cf.ObfuscateUrls,
	}

	durations := []struct {
		name   string
		raw    string
		target *time.Duration
	}{
		{"cacheDuration", cf.CacheDuration, &config.CacheDuration},
		{"quickDeadline", cf.QuickDeadline, &config.QuickDeadline},
		{"joinWait", cf.JoinWait, &config.JoinWait},
		{"finalDeadline", cf.FinalDeadline, &config.FinalDeadline},
		{"fetchTimeout", cf.FetchTimeout, &config.FetchTimeout},
		{"providerTimeout", cf.ProviderTimeout, &config.ProviderTimeout},
		{"probeTTL", cf.ProbeTTL, &config.ProbeTTL},
		{"probeTimeout", cf.ProbeTimeout, &config.ProbeTimeout},
	}

	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.target = parsed
	}

	return config, nil
}

// applyEnv overlays process environment values on top of the file settings.
func applyEnv(config *Config, getenv func(string) string) {
	if port := strings.TrimSpace(getenv("PORT")); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			config.Port = n
		}
	}
	if public := strings.TrimSpace(getenv("PUBLIC_URL")); public != "" {
		config.PublicURL = public
	}
	if level := strings.TrimSpace(getenv("LOG_LEVEL")); level != "" {
		config.LogLevel = level
	}
}

// getDefaultConfig returns a baseline configuration used when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		Port:                7000,
		SiteBaseURL:         "https://ww3.animeonline.ninja",
		UserAgent:           DefaultUserAgent,
		CacheDuration:       30 * time.Minute,
		QuickDeadline:       4500 * time.Millisecond,
		JoinWait:            3 * time.Second,
		FinalDeadline:       8 * time.Second,
		FetchTimeout:        6 * time.Second,
		ProviderTimeout:     12 * time.Second,
		IframeFanout:        3,
		FastOptionLimit:     3,
		PrewarmCount:        3,
		PreferredServers:    []string{"streamtape", "mp4upload"},
		Languages:           []string{"CAST"},
		ProbeEnabled:        false,
		ProbeTTL:            5 * time.Minute,
		ProbeTimeout:        4 * time.Second,
		WorkerThreads:       8,
		MaxConnectionsToApp: 100,
		RequestsPerSecond:   10,
		LogLevel:            "INFO",
	}
}

// validateAndSetDefaults ensures all config values are valid, filling in
// defaults for missing or invalid ones.
func validateAndSetDefaults(config *Config) {
	defaults := getDefaultConfig()

	if config.Port <= 0 || config.Port > 65535 {
		config.Port = defaults.Port
	}
	if config.SiteBaseURL == "" {
		config.SiteBaseURL = defaults.SiteBaseURL
	}
	config.SiteBaseURL = strings.TrimRight(config.SiteBaseURL, "/")
	config.PublicURL = strings.TrimRight(config.PublicURL, "/")
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if config.CacheDuration <= 0 {
		config.CacheDuration = defaults.CacheDuration
	}
	if config.QuickDeadline <= 0 {
		config.QuickDeadline = defaults.QuickDeadline
	}
	if config.JoinWait <= 0 {
		config.JoinWait = defaults.JoinWait
	}
	if config.FinalDeadline <= 0 {
		config.FinalDeadline = defaults.FinalDeadline
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = defaults.FetchTimeout
	}
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = defaults.ProviderTimeout
	}
	if config.IframeFanout <= 0 {
		config.IframeFanout = defaults.IframeFanout
	}
	if config.FastOptionLimit <= 0 {
		config.FastOptionLimit = defaults.FastOptionLimit
	}
	if config.PrewarmCount < 0 {
		config.PrewarmCount = defaults.PrewarmCount
	}
	if config.ProbeTTL <= 0 {
		config.ProbeTTL = defaults.ProbeTTL
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = defaults.ProbeTimeout
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = defaults.WorkerThreads
	}
	if config.MaxConnectionsToApp <= 0 {
		config.MaxConnectionsToApp = defaults.MaxConnectionsToApp
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if config.Debug {
		config.LogLevel = "DEBUG"
	}
	if config.LogLevel == "" {
		config.LogLevel = defaults.LogLevel
	}

	for i, lang := range config.Languages {
		config.Languages[i] = strings.ToUpper(strings.TrimSpace(lang))
	}
}

// Default returns a validated default configuration. Tests and embedded
// users start from this instead of reading a file.
func Default() *Config {
	cfg := getDefaultConfig()
	validateAndSetDefaults(cfg)
	return cfg
}

// LanguageAllowed reports whether provider sources tagged with lang should
// be kept. An empty allow-list keeps everything.
func (c *Config) LanguageAllowed(lang string) bool {
	if len(c.Languages) == 0 {
		return true
	}
	for _, allowed := range c.Languages {
		if strings.EqualFold(allowed, lang) {
			return true
		}
	}
	return false
}

// Summary returns the loggable settings. The public URL is rendered by
// the caller since it may need obfuscation.
func (c *Config) Summary() []string {
	return []string{
		fmt.Sprintf("Port: %d", c.Port),
		fmt.Sprintf("Site: %s", c.SiteBaseURL),
		fmt.Sprintf("Cache Duration: %s", c.CacheDuration),
		fmt.Sprintf("Quick/Join/Final: %s / %s / %s", c.QuickDeadline, c.JoinWait, c.FinalDeadline),
		fmt.Sprintf("Worker Threads: %d", c.WorkerThreads),
		fmt.Sprintf("Languages: %s", strings.Join(c.Languages, ",")),
		fmt.Sprintf("Preferred Servers: %s", strings.Join(c.PreferredServers, ",")),
		fmt.Sprintf("Probe Enabled: %v", c.ProbeEnabled),
		fmt.Sprintf("Log Level: %s", c.LogLevel),
	}
}
