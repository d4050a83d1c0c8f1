// Package protocol defines the envelope exchanged with a node agent. Each
// smux stream carries exactly one request line followed by one response
// line.
package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/alpacax/saucetunnel/pkg/executor/handlers/common"
	"github.com/google/uuid"
)

// MaxMessageSize bounds a single request or response line.
const MaxMessageSize = 4 * 1024 * 1024

// TruncatedNotice prefixes output that lost its head to fit MaxMessageSize.
const TruncatedNotice = "[output truncated]\n"

var ErrMessageTooLarge = errors.New("message exceeds size limit")

// MessageType defines the type of protocol message
type MessageType string

const (
	MessageTypeCommand MessageType = "command"
	MessageTypePing    MessageType = "ping"
)

// Request asks the node to run one command.
type Request struct {
	ID      string              `json:"id"`
	Query   MessageType         `json:"query"`
	Command string              `json:"command,omitempty"`
	Args    *common.CommandArgs `json:"args,omitempty"`
}

// Response reports the outcome of a Request. Error is set when the handler
// failed; a non-zero ExitCode alone is an ordinary command result.
type Response struct {
	ID          string  `json:"id"`
	ExitCode    int     `json:"exit_code"`
	Output      string  `json:"output"`
	Error       string  `json:"error,omitempty"`
	ElapsedTime float64 `json:"elapsed_time"`
}

func NewCommandRequest(cmd string, args *common.CommandArgs) *Request {
	return &Request{
		ID:      uuid.NewString(),
		Query:   MessageTypeCommand,
		Command: cmd,
		Args:    args,
	}
}

func NewPingRequest() *Request {
	return &Request{ID: uuid.NewString(), Query: MessageTypePing}
}

// NewResponse builds the response to req. err may be nil.
func NewResponse(req *Request, exitCode int, output string, err error, elapsed time.Duration) *Response {
	resp := &Response{
		ID:          req.ID,
		ExitCode:    exitCode,
		Output:      output,
		ElapsedTime: elapsed.Seconds(),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// fit returns r, or a copy keeping only the tail of its output when the
// encoded response would not fit in one message.
func (r *Response) fit() *Response {
	data, err := json.Marshal(r)
	if err != nil || len(data) < MaxMessageSize {
		return r
	}

	out := *r
	output := r.Output
	for len(data) >= MaxMessageSize && output != "" {
		cut := len(data) - MaxMessageSize + 1 + len(TruncatedNotice)
		if cut >= len(output) {
			output = ""
		} else {
			for cut < len(output) && !utf8.RuneStart(output[cut]) {
				cut++
			}
			output = output[cut:]
		}
		out.Output = TruncatedNotice + output
		if data, err = json.Marshal(&out); err != nil {
			return r
		}
	}
	return &out
}

// Write encodes v as a single JSON line. A Response too large to send keeps
// the tail of its output.
func Write(w io.Writer, v interface{}) error {
	if resp, ok := v.(*Response); ok {
		v = resp.fit()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(data) >= MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

func readLine(r io.Reader) ([]byte, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxMessageSize)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.ErrUnexpectedEOF
	}
	return scanner.Bytes(), nil
}

// ReadRequest reads and validates one request line.
func ReadRequest(r io.Reader) (*Request, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("malformed request: %w", err)
	}
	if req.ID == "" {
		return nil, fmt.Errorf("request has no id")
	}
	switch req.Query {
	case MessageTypePing:
	case MessageTypeCommand:
		if req.Command == "" {
			return nil, fmt.Errorf("request %s has no command", req.ID)
		}
	default:
		return nil, fmt.Errorf("request %s has unknown query %q", req.ID, req.Query)
	}
	return &req, nil
}

// ReadResponse reads the response to the request with the given id.
func ReadResponse(r io.Reader, id string) (*Response, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if resp.ID != id {
		return nil, fmt.Errorf("response id %q does not match request %q", resp.ID, id)
	}
	return &resp, nil
}
