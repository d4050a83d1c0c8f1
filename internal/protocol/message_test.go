package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alpacax/saucetunnel/pkg/executor/handlers/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	req := NewCommandRequest("opensauceconnect", &common.CommandArgs{
		Username: "alice",
		Port:     4445,
		Options:  "--tunnel-identifier build-1",
	})
	require.NotEmpty(t, req.ID)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, req))
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))

	got, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, MessageTypeCommand, got.Query)
	assert.Equal(t, "opensauceconnect", got.Command)
	require.NotNil(t, got.Args)
	assert.Equal(t, 4445, got.Args.Port)
	assert.Equal(t, "alice", got.Args.Username)
}

func TestReadRequestRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "hello\n"},
		{"missing id", `{"query":"ping"}` + "\n"},
		{"missing command", `{"id":"1","query":"command"}` + "\n"},
		{"unknown query", `{"id":"1","query":"quit"}` + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadRequest(strings.NewReader(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestReadRequestEmptyStream(t *testing.T) {
	_, err := ReadRequest(strings.NewReader(""))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestResponseCarriesError(t *testing.T) {
	req := NewPingRequest()
	resp := NewResponse(req, 1, "partial", errors.New("boom"), 1500*time.Millisecond)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, resp))

	got, err := ReadResponse(&buf, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ExitCode)
	assert.Equal(t, "partial", got.Output)
	assert.Equal(t, "boom", got.Error)
	assert.InDelta(t, 1.5, got.ElapsedTime, 0.001)
}

func TestReadResponseIDMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, &Response{ID: "other"}))

	_, err := ReadResponse(&buf, "mine")
	assert.Error(t, err)
}

func TestWriteTruncatesLargeOutput(t *testing.T) {
	req := NewCommandRequest("exec", nil)
	output := strings.Repeat("é", MaxMessageSize/2) + "last line\n"
	resp := NewResponse(req, 0, output, nil, time.Second)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, resp))
	assert.Less(t, buf.Len(), MaxMessageSize+1)

	got, err := ReadResponse(&buf, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ExitCode)
	assert.Empty(t, got.Error)
	assert.True(t, strings.HasPrefix(got.Output, TruncatedNotice))
	assert.True(t, strings.HasSuffix(got.Output, "last line\n"))
	assert.True(t, utf8.ValidString(got.Output))
	assert.Equal(t, output, resp.Output, "the caller's response is left untouched")
}

func TestWriteRejectsOversizedError(t *testing.T) {
	resp := &Response{ID: "x", Error: strings.Repeat("e", MaxMessageSize)}

	var buf bytes.Buffer
	assert.ErrorIs(t, Write(&buf, resp), ErrMessageTooLarge)
	assert.Zero(t, buf.Len())
}
