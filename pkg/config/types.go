package config

import "time"

type Settings struct {
	// Sauce Connect
	GlobalOptions   string        // default options prepended to every tunnel
	BinaryPath      string        // sc binary; empty means PATH lookup or download
	CacheDir        string        // where downloaded sc releases are unpacked
	StartTimeout    time.Duration // how long to wait for "Sauce Connect is up"
	RestEndpoint    string        // used when a credential has no endpoint of its own
	CloseTimeout    time.Duration // upper bound for a teardown call
	ResourceGuarded bool          // refuse to open tunnels on an overloaded node

	// Credentials
	CredentialsDB string
	KeyringType   string // system, file
	KeyringDir    string

	// Node agent
	AgentListen string
	AgentToken  string

	// Remote node used by "run"; empty runs everything in-process
	NodeURL       string
	NodeToken     string
	NodeSSLVerify bool

	LogFile string

	PoolMaxWorkers     int
	PoolQueueSize      int
	PoolDefaultTimeout int // seconds, 0 = no timeout
}

type Config struct {
	Sauce struct {
		Options       string `ini:"options"`
		Binary        string `ini:"binary"`
		CacheDir      string `ini:"cache_dir"`
		StartTimeout  int    `ini:"start_timeout"`
		CloseTimeout  int    `ini:"close_timeout"`
		RestEndpoint  string `ini:"rest_endpoint"`
		ResourceGuard *bool  `ini:"resource_guard"`
	} `ini:"sauce"`
	Credentials struct {
		Database   string `ini:"database"`
		Keyring    string `ini:"keyring"`
		KeyringDir string `ini:"keyring_dir"`
	} `ini:"credentials"`
	Agent struct {
		Listen string `ini:"listen"`
		Token  string `ini:"token"`
	} `ini:"agent"`
	Node struct {
		URL       string `ini:"url"`
		Token     string `ini:"token"`
		SSLVerify *bool  `ini:"ssl_verify"`
	} `ini:"node"`
	Logging struct {
		Debug bool   `ini:"debug"`
		File  string `ini:"file"`
	} `ini:"logging"`
	Pool struct {
		MaxWorkers     int  `ini:"max_workers"`
		QueueSize      int  `ini:"queue_size"`
		DefaultTimeout *int `ini:"default_timeout"`
	} `ini:"pool"`
}
