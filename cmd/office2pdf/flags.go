package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/alnah/go-office2pdf/internal/config"
)

// commonFlags holds flags shared across commands.
type commonFlags struct {
	config  string
	quiet   bool
	verbose bool
}

// engineFlags override the engine and staging sections of the config.
type engineFlags struct {
	binary      string
	workers     int
	callTimeout time.Duration
	stagingRoot string
	profileRoot string
	noVerify    bool
}

// serveFlags holds all flags for the serve command.
type serveFlags struct {
	common  commonFlags
	engine  engineFlags
	addr    string
	journal string
}

// convertFlags holds all flags for the convert command.
type convertFlags struct {
	common commonFlags
	engine engineFlags
	output string
}

// doctorFlags holds all flags for the doctor command.
type doctorFlags struct {
	config string
	json   bool
}

// addCommonFlags adds common flags to a FlagSet.
func addCommonFlags(fs *flag.FlagSet, f *commonFlags) {
	fs.StringVarP(&f.config, "config", "c", "", "config file name or path")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "only show errors")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging and detailed timing")
}

// addEngineFlags adds engine flags to a FlagSet.
func addEngineFlags(fs *flag.FlagSet, f *engineFlags) {
	fs.StringVar(&f.binary, "soffice", "", "LibreOffice soffice binary")
	fs.IntVarP(&f.workers, "workers", "w", 0, "concurrent conversions (0 = auto)")
	fs.DurationVar(&f.callTimeout, "call-timeout", 0, "bound on each engine call (e.g. 90s)")
	fs.StringVar(&f.stagingRoot, "staging-root", "", "directory for staged uploads")
	fs.StringVar(&f.profileRoot, "profile-root", "", "directory for engine profiles")
	fs.BoolVar(&f.noVerify, "no-verify", false, "skip PDF verification")
}

func newFlagSet(name string, stderr io.Writer, usage func(io.Writer)) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { usage(stderr) }
	return fs
}

// flagError marks a parse failure as a usage error. flag.ErrHelp is kept
// as is so callers can exit cleanly after printing usage.
func flagError(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUsage, err)
}

// serveFlagSet registers serve flags into f.
func serveFlagSet(f *serveFlags, stderr io.Writer) *flag.FlagSet {
	fs := newFlagSet("serve", stderr, printServeUsage)
	fs.StringVarP(&f.addr, "addr", "a", "", "listen address (host:port)")
	fs.StringVar(&f.journal, "journal", "", "conversion journal database path")
	addCommonFlags(fs, &f.common)
	addEngineFlags(fs, &f.engine)
	return fs
}

// convertFlagSet registers convert flags into f.
func convertFlagSet(f *convertFlags, stderr io.Writer) *flag.FlagSet {
	fs := newFlagSet("convert", stderr, printConvertUsage)
	fs.StringVarP(&f.output, "output", "o", "", "output directory (default: next to each input)")
	addCommonFlags(fs, &f.common)
	addEngineFlags(fs, &f.engine)
	return fs
}

// doctorFlagSet registers doctor flags into f.
func doctorFlagSet(f *doctorFlags, stderr io.Writer) *flag.FlagSet {
	fs := newFlagSet("doctor", stderr, printDoctorUsage)
	fs.StringVarP(&f.config, "config", "c", "", "config file name or path")
	fs.BoolVar(&f.json, "json", false, "machine-readable output")
	return fs
}

// configFlagSet registers config command flags into name.
func configFlagSet(name *string, stderr io.Writer) *flag.FlagSet {
	fs := newFlagSet("config", stderr, printConfigUsage)
	fs.StringVarP(name, "config", "c", "", "config file name or path")
	return fs
}

// parseServeFlags parses serve command flags.
func parseServeFlags(args []string, stderr io.Writer) (*serveFlags, error) {
	f := &serveFlags{}
	fs := serveFlagSet(f, stderr)
	if err := fs.Parse(args); err != nil {
		return nil, flagError(err)
	}
	if fs.NArg() > 0 {
		return nil, usageErrorf("serve takes no arguments, got %q", fs.Arg(0))
	}
	return f, nil
}

// parseConvertFlags parses convert command flags and returns positional args.
func parseConvertFlags(args []string, stderr io.Writer) (*convertFlags, []string, error) {
	f := &convertFlags{}
	fs := convertFlagSet(f, stderr)
	if err := fs.Parse(args); err != nil {
		return nil, nil, flagError(err)
	}
	return f, fs.Args(), nil
}

// parseDoctorFlags parses doctor command flags.
func parseDoctorFlags(args []string, stderr io.Writer) (*doctorFlags, error) {
	f := &doctorFlags{}
	if err := doctorFlagSet(f, stderr).Parse(args); err != nil {
		return nil, flagError(err)
	}
	return f, nil
}

// parseConfigFlags parses config command flags.
func parseConfigFlags(args []string, stderr io.Writer) (string, error) {
	var name string
	if err := configFlagSet(&name, stderr).Parse(args); err != nil {
		return "", flagError(err)
	}
	return name, nil
}

// mergeEngineFlags applies engine flags over cfg. Only set flags win.
func mergeEngineFlags(f *engineFlags, cfg *config.Config) {
	if f.binary != "" {
		cfg.Engine.Binary = f.binary
	}
	if f.workers != 0 {
		cfg.Engine.Workers = f.workers
	}
	if f.callTimeout != 0 {
		cfg.Engine.CallTimeout = f.callTimeout
	}
	if f.stagingRoot != "" {
		cfg.Staging.Root = f.stagingRoot
	}
	if f.profileRoot != "" {
		cfg.Engine.ProfileRoot = f.profileRoot
	}
	if f.noVerify {
		cfg.Engine.VerifyOutput = false
	}
}
