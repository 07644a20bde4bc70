package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/zkensemble/pkg/node"
)

func TestSetupConfigurationDefaults(t *testing.T) {
	v, version, err := setupConfiguration(nil)
	require.NoError(t, err)
	assert.False(t, version)

	tun := tunablesFromViper(v)
	assert.Equal(t, 2181, tun.ClientPort)
	assert.Equal(t, 2888, tun.ServerPort)
	assert.Equal(t, 3888, tun.ElectionPort)
	assert.Equal(t, []string{"http://etcd:2379"}, v.GetStringSlice(ParamEtcdEndpoints))
	assert.Equal(t, node.InterfaceBinding("eth0"), bindingFromViper(v))
}

func TestSetupConfigurationFlagsAndEnv(t *testing.T) {
	t.Setenv("ZKENSEMBLE_SERVER_PORT", "2999")

	v, _, err := setupConfiguration([]string{"--client-port=1234", "--advertise-address=10.1.0.42", "--standalone"})
	require.NoError(t, err)

	tun := tunablesFromViper(v)
	assert.Equal(t, 1234, tun.ClientPort)
	assert.Equal(t, 2999, tun.ServerPort)
	assert.True(t, v.GetBool(ParamStandalone))
	assert.Equal(t, node.StaticBinding("10.1.0.42"), bindingFromViper(v))
}

func TestSetupConfigurationFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "zkensemble.yaml")
	require.NoError(t, os.WriteFile(p, []byte("client-port: 2281\nleader-election-port: 3999\n"), 0o644))

	v, _, err := setupConfiguration([]string{"--config-path=" + p})
	require.NoError(t, err)

	tun := tunablesFromViper(v)
	assert.Equal(t, 2281, tun.ClientPort)
	assert.Equal(t, 3999, tun.ElectionPort)
}

func TestNewLogger(t *testing.T) {
	v, _, err := setupConfiguration([]string{"--verbose", "--json"})
	require.NoError(t, err)
	lg, err := newLogger(v)
	require.NoError(t, err)
	assert.True(t, lg.Core().Enabled(-1))
}
