package common

type HandlerType string

type CommandType string

const (
	Port  HandlerType = "port"
	Sauce HandlerType = "sauce"
	Shell HandlerType = "shell"
)

const (
	// Port commands
	AllocatePort CommandType = "allocateport"

	// Sauce Connect commands
	OpenSauceConnect  CommandType = "opensauceconnect"
	CloseSauceConnect CommandType = "closesauceconnect"

	// Shell commands
	ShellCmd CommandType = "shell" // one command line, split on operators
	Exec     CommandType = "exec"  // argv, no shell parsing
)

// Shell operators for command parsing
const (
	ShellAndOperator = "&&" // Execute next command only if previous succeeds
	ShellOrOperator  = "||" // Execute next command only if previous fails
	ShellSemicolon   = ";"  // Execute next command regardless of previous result
)

func (h HandlerType) String() string {
	return string(h)
}

func (c CommandType) String() string {
	return string(c)
}

// CommandsToStrings converts a slice of CommandType to a slice of strings
func CommandsToStrings(commands []CommandType) []string {
	result := make([]string, len(commands))
	for i, cmd := range commands {
		result[i] = cmd.String()
	}
	return result
}
