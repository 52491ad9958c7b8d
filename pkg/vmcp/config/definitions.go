package config

import (
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/oss-vmcp/vmcp/pkg/vmcp"
	"github.com/oss-vmcp/vmcp/pkg/vmcperrors"
)

// Definition is one vMCP's composition alongside the upstream servers it
// references, as loaded from a single YAML file under DATA_DIR. The
// relational store that would otherwise own these objects is an external
// collaborator (spec §1's Out of scope); this process reads them from
// disk instead.
type Definition struct {
	VMCP    vmcp.VMCP             `yaml:"vmcp"`
	Servers []vmcp.UpstreamServer `yaml:"servers"`
}

// LoadDefinitions reads every `*.yaml`/`*.yml` file directly under dataDir
// and parses each as a Definition. Files are read in lexical order so
// startup logs and validation output are stable across runs.
func LoadDefinitions(dataDir string) ([]Definition, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, vmcperrors.Newf(vmcperrors.Internal, err, "reading data directory %q", dataDir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dataDir, name)
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, vmcperrors.Newf(vmcperrors.Internal, err, "reading definition file %q", path)
		}
		var def Definition
		if err := yaml.Unmarshal(b, &def); err != nil {
			return nil, vmcperrors.Newf(vmcperrors.Internal, err, "parsing definition file %q", path)
		}
		defs = append(defs, def)
	}
	return defs, nil
}
