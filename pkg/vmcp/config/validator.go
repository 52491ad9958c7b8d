package config

import "github.com/oss-vmcp/vmcp/pkg/vmcperrors"

// Validate checks that cfg's values are usable, beyond what defaulting
// already guarantees.
func Validate(cfg Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return vmcperrors.Newf(vmcperrors.Internal, nil, "port %d out of range", cfg.Port)
	}
	if cfg.MaxConcurrentScripts <= 0 {
		return vmcperrors.New(vmcperrors.Internal, "max_concurrent_scripts must be positive", nil)
	}
	if cfg.MaxUpstreamConcurrency <= 0 {
		return vmcperrors.New(vmcperrors.Internal, "max_upstream_concurrency must be positive", nil)
	}
	if cfg.DefaultRequestDeadlineMS <= 0 {
		return vmcperrors.New(vmcperrors.Internal, "default_request_deadline_ms must be positive", nil)
	}
	if cfg.TemplateMaxDepth <= 0 {
		return vmcperrors.New(vmcperrors.Internal, "template_max_depth must be positive", nil)
	}
	if cfg.DataDir == "" {
		return vmcperrors.New(vmcperrors.Internal, "data_dir must not be empty", nil)
	}
	return nil
}
