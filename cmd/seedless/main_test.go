package main

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/ruteri/seedless-backup/interfaces"
	"github.com/ruteri/seedless-backup/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestDescribe(t *testing.T) {
	o := orchestrator.New(orchestrator.DefaultConfig(), orchestrator.Dependencies{
		Log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	tests := []struct {
		name     string
		err      error
		contains string
		count    string
	}{
		{
			name:     "wrong pin",
			err:      interfaces.WrongPinError(3),
			contains: "incorrect PIN, 3 attempts remaining",
			count:    "attempts remaining",
		},
		{
			name:     "locked",
			err:      interfaces.NewError(interfaces.KindLocked, "your PIN backup is locked", nil),
			contains: "can no longer be used",
			count:    "can no longer be used",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := describe(o, tt.err)
			var exit cli.ExitCoder
			require.True(t, errors.As(err, &exit))
			assert.Equal(t, 1, exit.ExitCode())
			assert.Contains(t, err.Error(), tt.contains)
			assert.Equal(t, 1, strings.Count(err.Error(), tt.count))
		})
	}

	plain := errors.New("boom")
	assert.Equal(t, plain, describe(o, plain))
}

func TestCommandsAcceptContextInfo(t *testing.T) {
	app := newApp()
	for _, name := range []string{"create", "recover", "delete-share"} {
		t.Run(name, func(t *testing.T) {
			cmd := app.Command(name)
			require.NotNil(t, cmd)

			var names []string
			for _, f := range cmd.Flags {
				names = append(names, f.Names()...)
			}
			assert.Contains(t, names, contextInfoFlag.Name)
		})
	}
}
