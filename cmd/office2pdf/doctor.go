package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/alnah/go-office2pdf/internal/config"
	"github.com/alnah/go-office2pdf/internal/fileutil"
	"github.com/alnah/go-office2pdf/internal/hints"
)

const versionProbeTimeout = 30 * time.Second

// Doctor statuses.
const (
	statusReady    = "ready"
	statusWarnings = "warnings"
	statusErrors   = "errors"
)

// doctorResult holds all diagnostic information.
type doctorResult struct {
	Status   string      `json:"status"`
	Config   configInfo  `json:"config"`
	Soffice  sofficeInfo `json:"soffice"`
	Env      envInfo     `json:"environment"`
	Dirs     []dirInfo   `json:"directories"`
	Warnings []string    `json:"warnings,omitempty"`
	Errors   []string    `json:"errors,omitempty"`
}

type configInfo struct {
	Source  string `json:"source"`
	Valid   bool   `json:"valid"`
	Workers int    `json:"workers"`
}

// sofficeInfo holds LibreOffice detection results.
type sofficeInfo struct {
	Found   bool   `json:"found"`
	Path    string `json:"path,omitempty"`
	Version string `json:"version,omitempty"`
}

// envInfo holds environment detection results.
type envInfo struct {
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	CPUs      int    `json:"cpus"`
	Container bool   `json:"container"`
}

type dirInfo struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Writable bool   `json:"writable"`
}

// runDoctorCmd executes the doctor command and returns an exit code.
// Exit codes: 0 = OK (including warnings), 1 = errors found.
func runDoctorCmd(ctx context.Context, args []string, env *Environment) int {
	flags, err := parseDoctorFlags(args, env.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		fmt.Fprintf(env.Stderr, "error: %v\n", err)
		return ExitUsage
	}

	result := runDoctor(ctx, flags.config, env)

	if flags.json {
		enc := json.NewEncoder(env.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	} else {
		printDoctorResult(env.Stdout, result)
	}

	if result.Status == statusErrors {
		return ExitGeneral
	}
	return ExitSuccess
}

// runDoctor performs all diagnostic checks.
func runDoctor(ctx context.Context, configName string, env *Environment) *doctorResult {
	result := &doctorResult{
		Status: statusReady,
		Env: envInfo{
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			CPUs:      runtime.NumCPU(),
			Container: hints.IsInContainer(),
		},
	}

	cfg := checkConfig(result, configName, env)
	checkSoffice(ctx, result, cfg.Engine.Binary, env)
	checkDirs(result, cfg)

	if len(result.Errors) > 0 {
		result.Status = statusErrors
	} else if len(result.Warnings) > 0 {
		result.Status = statusWarnings
	}
	return result
}

// checkConfig resolves settings the way serve does. On failure the defaults
// are used so the remaining checks still run.
func checkConfig(result *doctorResult, name string, env *Environment) *config.Config {
	result.Config.Source = "defaults"
	if name == "" {
		name = env.Getenv("OFFICE2PDF_CONFIG")
	}
	if name != "" {
		result.Config.Source = name
	}

	cfg, err := loadSettings(name, env)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		cfg = config.DefaultConfig()
	} else if err := cfg.Validate(); err != nil {
		result.Errors = append(result.Errors, err.Error())
	} else {
		result.Config.Valid = true
	}
	result.Config.Workers = cfg.Engine.Workers

	if cfg.Engine.CallTimeout == 0 {
		result.Warnings = append(result.Warnings,
			"engine.callTimeout is 0: a hung LibreOffice call blocks its worker. Set OFFICE2PDF_CALL_TIMEOUT")
	}
	return cfg
}

// checkSoffice locates LibreOffice and asks for its version.
func checkSoffice(ctx context.Context, result *doctorResult, binary string, env *Environment) {
	path, err := env.LookPath(binary)
	if err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("LibreOffice not found (%s). Install it or set OFFICE2PDF_SOFFICE", binary))
		return
	}
	result.Soffice.Found = true
	result.Soffice.Path = path

	ctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "--version").Output() // #nosec G204 -- configured binary
	if err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Could not get LibreOffice version: %v", err))
		return
	}
	result.Soffice.Version = strings.TrimSpace(string(out))
}

// checkDirs verifies that staging, profile and journal directories can be
// created and written.
func checkDirs(result *doctorResult, cfg *config.Config) {
	dirs := []dirInfo{
		{Name: "staging", Path: cfg.Staging.Root},
		{Name: "profiles", Path: cfg.Engine.ProfileRoot},
	}
	if cfg.Journal.Path != "" {
		dirs = append(dirs, dirInfo{Name: "journal", Path: filepath.Dir(cfg.Journal.Path)})
	}

	for i := range dirs {
		d := &dirs[i]
		if err := os.MkdirAll(d.Path, dirPermissions); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s directory %s: %v", d.Name, d.Path, err))
			continue
		}
		if err := fileutil.CheckWritableDir(d.Path); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s directory %s not writable", d.Name, d.Path))
			continue
		}
		d.Writable = true
	}
	result.Dirs = dirs
}

// printDoctorResult outputs human-readable diagnostic results.
func printDoctorResult(w io.Writer, r *doctorResult) {
	fmt.Fprintln(w, "office2pdf doctor")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Config")
	if r.Config.Valid {
		fmt.Fprintf(w, "  [OK] Source: %s\n", r.Config.Source)
	} else {
		fmt.Fprintf(w, "  [ERROR] Source: %s\n", r.Config.Source)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "LibreOffice")
	if r.Soffice.Found {
		fmt.Fprintf(w, "  [OK] Found at %s\n", r.Soffice.Path)
		if r.Soffice.Version != "" {
			fmt.Fprintf(w, "  [OK] Version: %s\n", r.Soffice.Version)
		}
	} else {
		fmt.Fprintln(w, "  [ERROR] Not found")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Environment")
	fmt.Fprintf(w, "  [OK] Platform: %s/%s (%d CPUs)\n", r.Env.OS, r.Env.Arch, r.Env.CPUs)
	if r.Env.Container {
		fmt.Fprintln(w, "  [OK] Container: detected")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Directories")
	for _, d := range r.Dirs {
		if d.Writable {
			fmt.Fprintf(w, "  [OK] %s: %s\n", d.Name, d.Path)
		} else {
			fmt.Fprintf(w, "  [ERROR] %s: %s\n", d.Name, d.Path)
		}
	}
	fmt.Fprintln(w)

	if len(r.Warnings) > 0 {
		fmt.Fprintln(w, "Warnings:")
		for _, warn := range r.Warnings {
			fmt.Fprintf(w, "  [WARN] %s\n", warn)
		}
		fmt.Fprintln(w)
	}

	if len(r.Errors) > 0 {
		fmt.Fprintln(w, "Errors:")
		for _, err := range r.Errors {
			fmt.Fprintf(w, "  [ERROR] %s\n", err)
		}
		fmt.Fprintln(w)
	}

	switch r.Status {
	case statusReady:
		fmt.Fprintln(w, "Status: Ready to convert")
	case statusWarnings:
		fmt.Fprintln(w, "Status: Ready with warnings")
	case statusErrors:
		fmt.Fprintln(w, "Status: Not ready (see errors above)")
	}
}
