package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/ini.v1"
)

var (
	GlobalSettings Settings
)

const (
	DefaultRestEndpoint = "https://saucelabs.com/"
	DefaultAgentListen  = "127.0.0.1:9021"
	DefaultStartTimeout = 120 * time.Second
	DefaultCloseTimeout = 60 * time.Second

	DefaultPoolMaxWorkers     = 20
	DefaultPoolQueueSize      = 200
	DefaultPoolDefaultTimeout = 0

	MaxReasonableWorkers        = 1000
	MaxReasonableQueueSize      = 10000
	MaxReasonableStartTimeout   = 15 * time.Minute
	MaxReasonableTimeoutSeconds = 3600
)

func InitSettings(settings Settings) {
	GlobalSettings = settings
}

// LoadConfig reads the first existing, non-empty file of configFiles. No
// file at all is not an error: every setting has a default.
func LoadConfig(configFiles []string) Settings {
	var validConfigFile string

	for _, configFile := range configFiles {
		fileInfo, statErr := os.Stat(configFile)
		if statErr != nil {
			if !os.IsNotExist(statErr) {
				log.Error().Err(statErr).Msgf("Error accessing config file %s.", configFile)
			}
			continue
		}

		if fileInfo.Size() == 0 {
			log.Debug().Msgf("Config file %s is empty, skipping...", configFile)
			continue
		}

		log.Debug().Msgf("Using config file %s.", configFile)
		validConfigFile = configFile
		break
	}

	var config Config
	if validConfigFile == "" {
		log.Debug().Msg("No config file found, using defaults.")
	} else {
		iniData, err := ini.Load(validConfigFile)
		if err != nil {
			log.Fatal().Err(err).Msgf("Failed to load config file %s.", validConfigFile)
		}
		if err = iniData.MapTo(&config); err != nil {
			log.Fatal().Err(err).Msgf("Failed to parse config file %s.", validConfigFile)
		}
	}

	if config.Logging.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	isValid, settings := validateConfig(config)
	if !isValid {
		log.Fatal().Msg("Aborting...")
	}

	return settings
}

func validateConfig(config Config) (bool, Settings) {
	log.Debug().Msg("Validating configuration fields...")

	home, _ := os.UserHomeDir()
	settings := Settings{
		GlobalOptions:      strings.TrimSpace(config.Sauce.Options),
		BinaryPath:         strings.TrimSpace(config.Sauce.Binary),
		CacheDir:           filepath.Join(home, ".cache", "saucetunnel"),
		StartTimeout:       DefaultStartTimeout,
		CloseTimeout:       DefaultCloseTimeout,
		RestEndpoint:       DefaultRestEndpoint,
		ResourceGuarded:    true,
		CredentialsDB:      filepath.Join(home, ".saucetunnel", "credentials.db"),
		KeyringType:        "system",
		KeyringDir:         filepath.Join(home, ".saucetunnel", "keyring"),
		AgentListen:        DefaultAgentListen,
		AgentToken:         config.Agent.Token,
		NodeToken:          config.Node.Token,
		NodeSSLVerify:      true,
		LogFile:            config.Logging.File,
		PoolMaxWorkers:     DefaultPoolMaxWorkers,
		PoolQueueSize:      DefaultPoolQueueSize,
		PoolDefaultTimeout: DefaultPoolDefaultTimeout,
	}

	valid := true

	if config.Sauce.CacheDir != "" {
		settings.CacheDir = config.Sauce.CacheDir
	}
	if config.Sauce.StartTimeout > 0 {
		settings.StartTimeout = time.Duration(config.Sauce.StartTimeout) * time.Second
	}
	if config.Sauce.CloseTimeout > 0 {
		settings.CloseTimeout = time.Duration(config.Sauce.CloseTimeout) * time.Second
	}
	if config.Sauce.ResourceGuard != nil {
		settings.ResourceGuarded = *config.Sauce.ResourceGuard
	}

	if endpoint := strings.TrimSpace(config.Sauce.RestEndpoint); endpoint != "" {
		if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
			if !strings.HasSuffix(endpoint, "/") {
				endpoint += "/"
			}
			settings.RestEndpoint = endpoint
		} else {
			log.Error().Msgf("Sauce REST endpoint %q is invalid.", endpoint)
			valid = false
		}
	}

	if config.Credentials.Database != "" {
		settings.CredentialsDB = config.Credentials.Database
	}
	switch config.Credentials.Keyring {
	case "", "system":
	case "file":
		settings.KeyringType = "file"
	default:
		log.Error().Msgf("Unknown keyring backend %q, expected system or file.", config.Credentials.Keyring)
		valid = false
	}
	if config.Credentials.KeyringDir != "" {
		settings.KeyringDir = config.Credentials.KeyringDir
	}

	if config.Agent.Listen != "" {
		settings.AgentListen = config.Agent.Listen
	}

	if val := strings.TrimSpace(config.Node.URL); val != "" {
		u, err := url.Parse(val)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			log.Error().Msgf("Node url %q is invalid, expected ws:// or wss://.", val)
			valid = false
		} else {
			settings.NodeURL = val
		}
	}
	if config.Node.SSLVerify != nil {
		settings.NodeSSLVerify = *config.Node.SSLVerify
	}
	if !settings.NodeSSLVerify && strings.HasPrefix(settings.NodeURL, "wss://") {
		log.Warn().Msg(
			"SSL verification for the node connection is turned off. " +
				"Please be aware that this setting is not appropriate for production use.",
		)
	}

	if config.Pool.MaxWorkers > 0 {
		settings.PoolMaxWorkers = config.Pool.MaxWorkers
	}
	if config.Pool.QueueSize > 0 {
		settings.PoolQueueSize = config.Pool.QueueSize
	}
	// nil means "not configured", 0 means "explicitly no timeout"
	if config.Pool.DefaultTimeout != nil {
		settings.PoolDefaultTimeout = *config.Pool.DefaultTimeout
	}

	if settings.PoolMaxWorkers > MaxReasonableWorkers {
		log.Warn().Msgf("Pool max workers (%d) seems very high, consider reducing it", settings.PoolMaxWorkers)
	}
	if settings.PoolQueueSize > MaxReasonableQueueSize {
		log.Warn().Msgf("Pool queue size (%d) seems very high, consider reducing it", settings.PoolQueueSize)
	}
	if settings.PoolDefaultTimeout > MaxReasonableTimeoutSeconds {
		log.Warn().Msgf("Pool default timeout (%d seconds) seems very high, consider reducing it", settings.PoolDefaultTimeout)
	}
	if settings.StartTimeout > MaxReasonableStartTimeout {
		log.Warn().Msgf("Sauce Connect start timeout (%s) seems very high, consider reducing it", settings.StartTimeout)
	}

	return valid, settings
}

func Files(name string) []string {
	return []string{
		fmt.Sprintf("/etc/%s/%s.conf", name, name),
		filepath.Join(os.Getenv("HOME"), fmt.Sprintf(".%s.conf", name)),
	}
}
