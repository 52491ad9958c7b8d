package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/oss-vmcp/vmcp/pkg/vmcp"
	"github.com/oss-vmcp/vmcp/pkg/vmcperrors"
)

// DefaultScriptTimeout bounds a Script tool invocation when its spec omits
// timeout_ms.
const DefaultScriptTimeout = 30 * time.Second

// DefaultMaxConcurrentScripts caps the number of Python subprocesses that
// may run at once across the whole process (MAX_CONCURRENT_SCRIPTS).
const DefaultMaxConcurrentScripts = 8

// ScriptEngine runs Script custom tools as short-lived Python subprocesses,
// passing arguments as a JSON object on stdin and reading an MCP-shaped
// result as JSON from stdout.
type ScriptEngine struct {
	interpreter string
	gate        *semaphore.Weighted
}

// NewScriptEngine builds a ScriptEngine. interpreter is the Python
// executable to invoke (e.g. "python3"); maxConcurrent bounds how many
// scripts may run at once.
func NewScriptEngine(interpreter string, maxConcurrent int64) *ScriptEngine {
	if interpreter == "" {
		interpreter = "python3"
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentScripts
	}
	return &ScriptEngine{interpreter: interpreter, gate: semaphore.NewWeighted(maxConcurrent)}
}

// Execute runs tool.Script.Source as a Python program, with args available
// to the script as a JSON object on stdin and the tool's bound environment
// variables (filtered to Script.EnvReads) exported into the subprocess.
func (e *ScriptEngine) Execute(ic *vmcp.InvocationContext, tool vmcp.CustomTool, args map[string]any) (any, error) {
	if tool.Script == nil {
		return nil, vmcperrors.Newf(vmcperrors.Internal, nil, "custom tool %q declared kind script with no script spec", tool.Name)
	}

	timeout := DefaultScriptTimeout
	if tool.Script.TimeoutMS > 0 {
		timeout = time.Duration(tool.Script.TimeoutMS) * time.Millisecond
	}

	if err := e.gate.Acquire(ic.Context(), 1); err != nil {
		return nil, vmcperrors.Newf(vmcperrors.ToolCrash, err, "script tool %q: acquiring execution slot", tool.Name)
	}
	defer e.gate.Release(1)

	ctx, cancel := context.WithTimeout(ic.Context(), timeout)
	defer cancel()

	stdin, err := json.Marshal(args)
	if err != nil {
		return nil, vmcperrors.Newf(vmcperrors.ToolBadOutput, err, "script tool %q: marshaling arguments", tool.Name)
	}

	cmd := exec.CommandContext(ctx, e.interpreter, "-c", tool.Script.Source)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Env = scriptEnv(ic, tool.Script.EnvReads)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, vmcperrors.Newf(vmcperrors.ToolTimeout, ctx.Err(), "script tool %q exceeded %s", tool.Name, timeout)
	}
	if runErr != nil {
		return nil, vmcperrors.Newf(vmcperrors.ToolCrash, runErr, "script tool %q exited with error: %s", tool.Name, truncate(stderr.String(), 2048))
	}

	var result any
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, vmcperrors.Newf(vmcperrors.ToolBadOutput, err, "script tool %q produced non-JSON stdout", tool.Name)
	}
	return result, nil
}

// scriptEnv builds the subprocess environment: only the names listed in
// envReads are forwarded from the Invocation Context's frozen env, so a
// script can never read env vars it didn't declare.
func scriptEnv(ic *vmcp.InvocationContext, envReads []string) []string {
	env := make([]string, 0, len(envReads))
	for _, name := range envReads {
		if v, ok := ic.Env[name]; ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
