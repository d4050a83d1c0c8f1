package common

import "time"

// CommandArgs carries the arguments of every node command. It travels over
// the wire as JSON, so every field is tagged.
type CommandArgs struct {
	// Shell
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`
	Timeout    time.Duration     `json:"timeout,omitempty"`

	// Sauce Connect
	Username     string `json:"username,omitempty"`
	AccessKey    string `json:"access_key,omitempty"`
	RestEndpoint string `json:"rest_endpoint,omitempty"`
	Port         int    `json:"port,omitempty"`
	Options      string `json:"options,omitempty"`
	Verbose      bool   `json:"verbose,omitempty"`
	UseLatest    bool   `json:"use_latest,omitempty"`
	BinaryPath   string `json:"binary_path,omitempty"`
}
