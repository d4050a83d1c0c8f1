package sauce

import (
	"context"
	"errors"
	"testing"

	"github.com/alpacax/saucetunnel/pkg/executor/handlers/common"
	"github.com/alpacax/saucetunnel/pkg/sauceconnect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeManager struct {
	opened  []sauceconnect.OpenRequest
	closed  []string
	openErr error
}

func (f *fakeManager) Open(_ context.Context, req sauceconnect.OpenRequest) error {
	f.opened = append(f.opened, req)
	return f.openErr
}

func (f *fakeManager) CloseTunnelsForPlan(_ context.Context, username, options string) error {
	f.closed = append(f.closed, username+"|"+options)
	return nil
}

func validOpenArgs() *common.CommandArgs {
	return &common.CommandArgs{
		Username:     "alice",
		AccessKey:    "secret",
		RestEndpoint: "https://saucelabs.com/",
		Port:         4445,
		Options:      "-x https://saucelabs.com/rest/v1",
		Verbose:      true,
	}
}

func TestSauceHandler_Validate(t *testing.T) {
	handler := NewSauceHandler(&fakeManager{}, nil)

	tests := []struct {
		name    string
		cmd     string
		mutate  func(*common.CommandArgs)
		wantErr bool
	}{
		{"open valid", "opensauceconnect", func(*common.CommandArgs) {}, false},
		{"open missing username", "opensauceconnect", func(a *common.CommandArgs) { a.Username = "" }, true},
		{"open missing access key", "opensauceconnect", func(a *common.CommandArgs) { a.AccessKey = "" }, true},
		{"open port zero", "opensauceconnect", func(a *common.CommandArgs) { a.Port = 0 }, true},
		{"open port out of range", "opensauceconnect", func(a *common.CommandArgs) { a.Port = 70000 }, true},
		{"open bad endpoint", "opensauceconnect", func(a *common.CommandArgs) { a.RestEndpoint = "not a url" }, true},
		{"close valid", "closesauceconnect", func(*common.CommandArgs) {}, false},
		{"close missing username", "closesauceconnect", func(a *common.CommandArgs) { a.Username = "" }, true},
		{"unknown command", "opentunnel", func(*common.CommandArgs) {}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := validOpenArgs()
			tt.mutate(args)
			err := handler.Validate(tt.cmd, args)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSauceHandler_Open(t *testing.T) {
	manager := &fakeManager{}
	handler := NewSauceHandler(manager, nil)

	exitCode, output, err := handler.Execute(context.Background(), "opensauceconnect", validOpenArgs())
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode)
	assert.Contains(t, output, "4445")

	require.Len(t, manager.opened, 1)
	assert.Equal(t, sauceconnect.OpenRequest{
		Username:     "alice",
		AccessKey:    "secret",
		RestEndpoint: "https://saucelabs.com/",
		Port:         4445,
		Options:      "-x https://saucelabs.com/rest/v1",
		Verbose:      true,
	}, manager.opened[0])
}

func TestSauceHandler_OpenFailure(t *testing.T) {
	manager := &fakeManager{openErr: sauceconnect.ErrExitedEarly}
	handler := NewSauceHandler(manager, nil)

	exitCode, _, err := handler.Execute(context.Background(), "opensauceconnect", validOpenArgs())
	assert.Equal(t, 1, exitCode)
	assert.ErrorIs(t, err, sauceconnect.ErrExitedEarly)
}

func TestSauceHandler_ResourceGuard(t *testing.T) {
	manager := &fakeManager{}
	handler := NewSauceHandler(manager, func(context.Context) error {
		return errors.New("cpu usage is 99.0%")
	})

	exitCode, _, err := handler.Execute(context.Background(), "opensauceconnect", validOpenArgs())
	assert.Equal(t, 1, exitCode)
	assert.Error(t, err)
	assert.Empty(t, manager.opened, "guard must veto before the manager is called")
}

func TestSauceHandler_Close(t *testing.T) {
	manager := &fakeManager{}
	handler := NewSauceHandler(manager, nil)

	exitCode, _, err := handler.Execute(context.Background(), "closesauceconnect", &common.CommandArgs{
		Username: "alice",
		Options:  "--tunnel-identifier job-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode)
	assert.Equal(t, []string{"alice|--tunnel-identifier job-1"}, manager.closed)
}
