package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	runtimepkg "github.com/drblury/haltalk/internal/runtime"
	errspkg "github.com/drblury/haltalk/internal/runtime/errors"
	"github.com/drblury/haltalk/internal/wire"
)

const fixtureYAML = `
signals:
  - {name: spindle-speed, type: float}
components:
  - name: panel
    kind: remote
    pins:
      - {name: panel.speed, type: float, dir: out}
groups:
  - name: spindle
    members:
      - {signal: spindle-speed}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := BuildCLI()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func stubServe(t *testing.T, fn func(ctx context.Context, svc *runtimepkg.Service) error) {
	t.Helper()
	orig := serve
	serve = fn
	t.Cleanup(func() { serve = orig })
}

func TestRunServesUntilCancelled(t *testing.T) {
	fixture := writeFile(t, "hal.yaml", fixtureYAML)

	var served *runtimepkg.Service
	stubServe(t, func(_ context.Context, svc *runtimepkg.Service) error {
		served = svc
		return context.Canceled
	})

	_, err := execute(t, "run", "--transport", "channel", "--fixture", fixture)
	require.NoError(t, err)
	require.NotNil(t, served)
	assert.NotEmpty(t, served.UUID())
	assert.Equal(t, wire.CodecJSON, served.Codec().Name())
}

func TestRunAppliesOverrides(t *testing.T) {
	conf := writeFile(t, "haltalk.yaml", "pubsub_system: channel\nwire_format: json\n")

	stubServe(t, func(_ context.Context, svc *runtimepkg.Service) error {
		assert.Equal(t, wire.CodecProtobuf, svc.Codec().Name())
		assert.Equal(t, 2, svc.Conf.Debug)
		return nil
	})

	_, err := execute(t, "run", "-c", conf, "--wire-format", "protobuf", "-dd")
	require.NoError(t, err)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	stubServe(t, func(context.Context, *runtimepkg.Service) error {
		t.Fatal("serve must not be reached")
		return nil
	})

	_, err := execute(t, "run", "--transport", "nats")
	require.Error(t, err)
	var cve errspkg.ConfigValidationError
	assert.ErrorAs(t, err, &cve)
}

func TestRunReportsMissingFixture(t *testing.T) {
	_, err := execute(t, "run", "--fixture", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.yaml")
}

func TestValidate(t *testing.T) {
	fixture := writeFile(t, "hal.yaml", fixtureYAML)

	out, err := execute(t, "validate", "--fixture", fixture)
	require.NoError(t, err)
	assert.Contains(t, out, "config ok: transport=channel wire_format=json")
	assert.Contains(t, out, "fixture ok: 1 components, 1 signals, 1 groups")
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "missing nats url", args: []string{"--transport", "nats"}, want: "nats: URL is required"},
		{name: "unknown transport", args: []string{"--transport", "carrier-pigeon"}, want: "unknown transport"},
		{name: "unknown wire format", args: []string{"--wire-format", "xml"}, want: "unknown codec"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"validate"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDescribePrintsStore(t *testing.T) {
	fixture := writeFile(t, "hal.yaml", fixtureYAML)

	out, err := execute(t, "describe", "-f", fixture)
	require.NoError(t, err)

	env, err := wire.JSONCodec{}.Decode([]byte(strings.TrimSpace(out)))
	require.NoError(t, err)
	assert.Equal(t, wire.MTHalrcmdDescription, env.Type)
	require.Len(t, env.Components, 1)
	assert.Equal(t, "panel", env.Components[0].Name)
	assert.Len(t, env.Groups, 1)
}

func TestDescribeNeedsFixture(t *testing.T) {
	_, err := execute(t, "describe")
	require.EqualError(t, err, "describe needs --fixture")
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}
