package config

import (
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/oss-vmcp/vmcp/pkg/vmcp"
	"github.com/oss-vmcp/vmcp/pkg/vmcperrors"
)

// keyringService namespaces this process's secrets within the OS
// credential store.
const keyringService = "vmcp"

// ResolveEnv turns a vMCP's declared EnvVars into a plain name -> value
// map, resolving Secret entries through the OS keyring rather than
// storing their values inline. A secret EnvVar's Value field holds the
// keyring account name to look up, not the secret itself.
func ResolveEnv(vars []vmcp.EnvVar) (map[string]string, error) {
	out := make(map[string]string, len(vars))
	for _, v := range vars {
		if !v.Secret {
			out[v.Name] = v.Value
			continue
		}
		secret, err := keyring.Get(keyringService, v.Value)
		if err != nil {
			return nil, vmcperrors.Newf(vmcperrors.Internal, err, "resolving secret environment variable %q from keyring", v.Name)
		}
		out[v.Name] = secret
	}
	return out, nil
}

// StoreSecret saves value in the OS keyring under account, for later
// resolution by ResolveEnv. account should not itself contain the secret.
func StoreSecret(account, value string) error {
	if strings.TrimSpace(account) == "" {
		return vmcperrors.New(vmcperrors.Internal, "secret account name must not be empty", nil)
	}
	if err := keyring.Set(keyringService, account, value); err != nil {
		return vmcperrors.Newf(vmcperrors.Internal, err, "storing secret %q in keyring", account)
	}
	return nil
}

// DeleteSecret removes a previously stored secret.
func DeleteSecret(account string) error {
	if err := keyring.Delete(keyringService, account); err != nil {
		return vmcperrors.Newf(vmcperrors.Internal, err, "deleting secret %q from keyring", account)
	}
	return nil
}
