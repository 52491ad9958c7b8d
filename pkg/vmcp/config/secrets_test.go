package config

import (
	"testing"

	"github.com/zalando/go-keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oss-vmcp/vmcp/pkg/vmcp"
)

func TestMain(m *testing.M) {
	keyring.MockInit()
	m.Run()
}

func TestStoreAndResolveSecretEnv(t *testing.T) {
	require.NoError(t, StoreSecret("upstream-token", "s3cr3t"))

	env, err := ResolveEnv([]vmcp.EnvVar{
		{Name: "TOKEN", Value: "upstream-token", Secret: true},
		{Name: "PLAIN", Value: "literal"},
	})
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", env["TOKEN"])
	assert.Equal(t, "literal", env["PLAIN"])
}

func TestResolveEnv_MissingSecret_ReturnsError(t *testing.T) {
	_, err := ResolveEnv([]vmcp.EnvVar{{Name: "MISSING", Value: "nonexistent-account", Secret: true}})
	assert.Error(t, err)
}

func TestStoreSecret_RejectsEmptyAccount(t *testing.T) {
	assert.Error(t, StoreSecret("", "value"))
}

func TestDeleteSecret_RemovesStoredValue(t *testing.T) {
	require.NoError(t, StoreSecret("to-delete", "v"))
	require.NoError(t, DeleteSecret("to-delete"))

	_, err := ResolveEnv([]vmcp.EnvVar{{Name: "X", Value: "to-delete", Secret: true}})
	assert.Error(t, err)
}
