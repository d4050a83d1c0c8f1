package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/alpacax/saucetunnel/pkg/executor/handlers/common"
	shellquote "github.com/kballard/go-shellquote"
	"github.com/rs/zerolog/log"
)

const defaultShellTimeout = 120 * time.Second

var envReference = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}|\$[A-Za-z_][A-Za-z0-9_]*`)

// ShellHandler runs the nested work of a build on the node.
type ShellHandler struct {
	*common.BaseHandler
}

func NewShellHandler(cmdExecutor common.CommandExecutor) *ShellHandler {
	return &ShellHandler{
		BaseHandler: common.NewBaseHandler(
			common.Shell,
			[]common.CommandType{
				common.ShellCmd,
				common.Exec,
			},
			cmdExecutor,
		),
	}
}

func (h *ShellHandler) Execute(ctx context.Context, cmd string, args *common.CommandArgs) (int, string, error) {
	switch cmd {
	case common.ShellCmd.String():
		return h.handleShellCommand(ctx, args)
	case common.Exec.String():
		return h.handleExec(ctx, args)
	default:
		return 1, "", fmt.Errorf("unknown shell command: %s", cmd)
	}
}

func (h *ShellHandler) Validate(cmd string, args *common.CommandArgs) error {
	switch cmd {
	case common.ShellCmd.String():
		if args.Command == "" {
			return errors.New("shell command is required")
		}
	case common.Exec.String():
		if len(args.Args) == 0 && args.Command == "" {
			return errors.New("exec requires args or a command")
		}
	default:
		return fmt.Errorf("unknown shell command: %s", cmd)
	}
	return nil
}

// handleExec runs args.Args as argv. A bare Command is split with shell
// quoting rules but operators are not interpreted.
func (h *ShellHandler) handleExec(ctx context.Context, args *common.CommandArgs) (int, string, error) {
	argv := args.Args
	if len(argv) == 0 {
		var err error
		if argv, err = shellquote.Split(args.Command); err != nil {
			return 1, "", fmt.Errorf("invalid command: %w", err)
		}
	}

	log.Debug().
		Strs("argv", argv).
		Int("overrides", len(args.Env)).
		Msg("Executing nested command")

	exitCode, output, err := h.Executor.Exec(ctx, argv, args.Env, args.WorkingDir, args.Timeout)
	if err != nil && exitCode == 0 {
		return 1, output, err
	}
	// a non-zero exit is reported through exitCode, not as a transport error
	return exitCode, output, nil
}

func (h *ShellHandler) handleShellCommand(ctx context.Context, args *common.CommandArgs) (int, string, error) {
	timeout := args.Timeout
	if timeout == 0 {
		timeout = defaultShellTimeout
	}

	log.Debug().
		Str("command", args.Command).
		Dur("timeout", timeout).
		Msg("Executing shell command")

	tokens, err := shellquote.Split(args.Command)
	if err != nil {
		return 1, "", fmt.Errorf("invalid command: %w", err)
	}
	for i, tok := range tokens {
		tokens[i] = expandReferences(tok, args.Env)
	}
	return h.executeWithOperators(ctx, tokens, args.Env, args.WorkingDir, timeout)
}

// expandReferences substitutes $NAME and ${NAME} from env, then from the
// node environment. Unknown references are kept as written.
func expandReferences(tok string, env map[string]string) string {
	return envReference.ReplaceAllStringFunc(tok, func(ref string) string {
		name := strings.Trim(ref, "${}")
		if v, ok := env[name]; ok {
			return v
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return ref
	})
}

// executeWithOperators handles shell operators (&&, ||, ;)
func (h *ShellHandler) executeWithOperators(ctx context.Context, tokens []string, env map[string]string, dir string, timeout time.Duration) (int, string, error) {
	var currentCmd []string
	var results []byte
	var exitCode int

	run := func() {
		if len(currentCmd) == 0 {
			return
		}
		var out string
		exitCode, out = h.executeCommand(ctx, currentCmd, env, dir, timeout)
		results = append(results, out...)
		currentCmd = nil
	}

	for _, tok := range tokens {
		switch tok {
		case common.ShellAndOperator:
			run()
			if exitCode != 0 {
				return exitCode, string(results), nil
			}
		case common.ShellOrOperator:
			run()
			if exitCode == 0 {
				return exitCode, string(results), nil
			}
		case common.ShellSemicolon:
			run()
		default:
			currentCmd = append(currentCmd, tok)
		}
	}
	run()

	return exitCode, string(results), nil
}

func (h *ShellHandler) executeCommand(ctx context.Context, cmdArgs []string, env map[string]string, dir string, timeout time.Duration) (int, string) {
	exitCode, output, err := h.Executor.Exec(ctx, cmdArgs, env, dir, timeout)
	if err != nil && exitCode == 0 {
		return 1, err.Error()
	}
	return exitCode, output
}
