package commands

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/florianilch/dashauth/internal/app"
)

func TestSessionCommandsRequireWritableStorage(t *testing.T) {
	isolateUserConfig(t)
	t.Setenv("CI_DASHAUTH_TOKENS", "")
	t.Setenv("DASHAUTH_STORAGE__ENV_KEY", "CI_DASHAUTH_TOKENS")

	tests := []struct {
		name string
		args []string
	}{
		{name: "login", args: []string{"login", "--username", "alice", "--password-stdin"}},
		{name: "logout", args: []string{"logout"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"dashauth", "--storage--type", "env", "--log-level", "error"}, tt.args...)

			err := Execute(context.Background(), args)
			assert.ErrorIs(t, err, app.ErrReadOnlyStorage)
		})
	}
}
