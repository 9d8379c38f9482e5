package main

import (
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"

	office2pdf "github.com/alnah/go-office2pdf"
)

// Shell represents a supported shell for completion generation.
type Shell string

// Supported shells for completion.
const (
	ShellBash Shell = "bash"
	ShellZsh  Shell = "zsh"
	ShellFish Shell = "fish"
)

// ErrUnsupportedShell is returned when an unknown shell is requested.
var ErrUnsupportedShell = fmt.Errorf("%w: unsupported shell", ErrUsage)

// flagType represents the completion type for a flag.
type flagType int

const (
	flagValue flagType = iota // takes a value, no completion
	flagBool
	flagFile // file with glob pattern
	flagDir  // directory
)

// flagDef describes a flag for completion purposes.
type flagDef struct {
	Long  string
	Short string
	Type  flagType
	Desc  string
	Globs []string // for file flags, without "*."
}

// commandDef describes a command for completion.
type commandDef struct {
	Name       string
	Desc       string
	Flags      []flagDef
	FileGlobs  []string // accepted file arguments, without "*."
	TakesNames bool     // accepts command names (help)
}

// completionMeta holds completion hints for flags whose values are paths.
// Flag names, types and descriptions come from the FlagSets.
var completionMeta = map[string]flagDef{
	"config":       {Type: flagFile, Globs: []string{"yaml", "yml"}},
	"journal":      {Type: flagFile, Globs: []string{"db", "sqlite"}},
	"soffice":      {Type: flagFile},
	"output":       {Type: flagDir},
	"staging-root": {Type: flagDir},
	"profile-root": {Type: flagDir},
}

// extractFlags extracts flag definitions from a FlagSet.
func extractFlags(fs *flag.FlagSet) []flagDef {
	var flags []flagDef
	fs.VisitAll(func(f *flag.Flag) {
		fd := flagDef{Long: f.Name, Short: f.Shorthand, Desc: f.Usage, Type: flagValue}
		if f.Value.Type() == "bool" {
			fd.Type = flagBool
		}
		if meta, ok := completionMeta[f.Name]; ok {
			fd.Type = meta.Type
			fd.Globs = meta.Globs
		}
		flags = append(flags, fd)
	})
	return flags
}

// supportedGlobs returns the document extensions without their dot.
func supportedGlobs() []string {
	exts := office2pdf.SupportedExtensions()
	globs := make([]string, len(exts))
	for i, e := range exts {
		globs[i] = strings.TrimPrefix(e, ".")
	}
	return globs
}

// getCommands returns the command registry for completion.
// Flags are extracted from the real FlagSets.
func getCommands() []commandDef {
	var (
		sf   serveFlags
		cf   convertFlags
		df   doctorFlags
		name string
	)
	return []commandDef{
		{Name: "serve", Desc: "Run the HTTP conversion service", Flags: extractFlags(serveFlagSet(&sf, io.Discard))},
		{Name: "convert", Desc: "Convert office documents to PDF", Flags: extractFlags(convertFlagSet(&cf, io.Discard)), FileGlobs: supportedGlobs()},
		{Name: "doctor", Desc: "Check LibreOffice and directories", Flags: extractFlags(doctorFlagSet(&df, io.Discard))},
		{Name: "config", Desc: "Print the effective configuration", Flags: extractFlags(configFlagSet(&name, io.Discard))},
		{Name: "version", Desc: "Show version information"},
		{Name: "help", Desc: "Show help for a command", TakesNames: true},
		{Name: "completion", Desc: "Generate shell completion script"},
	}
}

// GenerateCompletion writes shell completion script to w.
func GenerateCompletion(w io.Writer, shell Shell) error {
	switch shell {
	case ShellBash:
		return generateBash(w, getCommands())
	case ShellZsh:
		return generateZsh(w, getCommands())
	case ShellFish:
		return generateFish(w, getCommands())
	default:
		return fmt.Errorf("%w: %q (supported: bash, zsh, fish)", ErrUnsupportedShell, shell)
	}
}

// runCompletion handles the completion command.
func runCompletion(args []string, env *Environment) error {
	if len(args) == 0 {
		printCompletionUsage(env.Stdout)
		return nil
	}
	return GenerateCompletion(env.Stdout, Shell(args[0]))
}

func commandNames(cmds []commandDef) string {
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.Name
	}
	return strings.Join(names, " ")
}

func generateBash(w io.Writer, cmds []commandDef) error {
	var b strings.Builder
	b.WriteString("# bash completion for office2pdf\n")
	b.WriteString("_office2pdf() {\n")
	b.WriteString("    local cur prev cmd\n")
	b.WriteString("    cur=\"${COMP_WORDS[COMP_CWORD]}\"\n")
	b.WriteString("    prev=\"${COMP_WORDS[COMP_CWORD-1]}\"\n")
	b.WriteString("    cmd=\"${COMP_WORDS[1]}\"\n\n")
	b.WriteString("    if [[ ${COMP_CWORD} -eq 1 ]]; then\n")
	fmt.Fprintf(&b, "        COMPREPLY=( $(compgen -W %q -- \"$cur\") )\n", commandNames(cmds))
	b.WriteString("        return\n    fi\n\n")
	b.WriteString("    case \"$cmd\" in\n")

	for _, c := range cmds {
		fmt.Fprintf(&b, "    %s)\n", c.Name)

		var valued []string
		for _, f := range c.Flags {
			if f.Type == flagBool {
				continue
			}
			pattern := "--" + f.Long
			if f.Short != "" {
				pattern += "|-" + f.Short
			}
			switch f.Type {
			case flagDir:
				fmt.Fprintf(&b, "        case \"$prev\" in %s) COMPREPLY=( $(compgen -d -- \"$cur\") ); return ;; esac\n", pattern)
			case flagFile:
				fmt.Fprintf(&b, "        case \"$prev\" in %s) COMPREPLY=( $(compgen -f %s-- \"$cur\") ); return ;; esac\n", pattern, bashFilter(f.Globs))
			default:
				valued = append(valued, pattern)
			}
		}
		if len(valued) > 0 {
			fmt.Fprintf(&b, "        case \"$prev\" in %s) return ;; esac\n", strings.Join(valued, "|"))
		}

		if len(c.Flags) > 0 {
			var words []string
			for _, f := range c.Flags {
				words = append(words, "--"+f.Long)
				if f.Short != "" {
					words = append(words, "-"+f.Short)
				}
			}
			b.WriteString("        if [[ \"$cur\" == -* ]]; then\n")
			fmt.Fprintf(&b, "            COMPREPLY=( $(compgen -W %q -- \"$cur\") )\n", strings.Join(words, " "))
			b.WriteString("            return\n        fi\n")
		}
		switch {
		case len(c.FileGlobs) > 0:
			fmt.Fprintf(&b, "        COMPREPLY=( $(compgen -f %s-- \"$cur\") )\n", bashFilter(c.FileGlobs))
		case c.TakesNames:
			fmt.Fprintf(&b, "        COMPREPLY=( $(compgen -W %q -- \"$cur\") )\n", commandNames(cmds))
		case c.Name == "completion":
			b.WriteString("        COMPREPLY=( $(compgen -W \"bash zsh fish\" -- \"$cur\") )\n")
		}
		b.WriteString("        ;;\n")
	}

	b.WriteString("    esac\n}\n")
	b.WriteString("complete -o plusdirs -F _office2pdf office2pdf\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// bashFilter builds a compgen -X filter keeping only files matching globs.
func bashFilter(globs []string) string {
	if len(globs) == 0 {
		return ""
	}
	var alts []string
	for _, g := range globs {
		alts = append(alts, g, strings.ToUpper(g))
	}
	return fmt.Sprintf("-X '!*.@(%s)' ", strings.Join(alts, "|"))
}

func generateZsh(w io.Writer, cmds []commandDef) error {
	var b strings.Builder
	b.WriteString("#compdef office2pdf\n\n")
	b.WriteString("_office2pdf() {\n")
	b.WriteString("    local -a commands\n")
	b.WriteString("    commands=(\n")
	for _, c := range cmds {
		fmt.Fprintf(&b, "        '%s:%s'\n", c.Name, zshEscape(c.Desc))
	}
	b.WriteString("    )\n\n")
	b.WriteString("    if (( CURRENT == 2 )); then\n")
	b.WriteString("        _describe 'command' commands\n")
	b.WriteString("        return\n    fi\n\n")
	b.WriteString("    case $words[2] in\n")

	for _, c := range cmds {
		fmt.Fprintf(&b, "    %s)\n        _arguments \\\n", c.Name)
		for _, f := range c.Flags {
			fmt.Fprintf(&b, "            %s \\\n", zshFlagSpec(f))
		}
		switch {
		case len(c.FileGlobs) > 0:
			fmt.Fprintf(&b, "            '*:document:_files -g \"*.(%s)(-.)\"'\n", strings.Join(c.FileGlobs, "|"))
		case c.TakesNames:
			b.WriteString("            '1:command:_describe command commands'\n")
		case c.Name == "completion":
			b.WriteString("            '1:shell:(bash zsh fish)'\n")
		default:
			b.WriteString("            '*: :'\n")
		}
		b.WriteString("        ;;\n")
	}

	b.WriteString("    esac\n}\n\n")
	b.WriteString("_office2pdf \"$@\"\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func zshFlagSpec(f flagDef) string {
	desc := zshEscape(f.Desc)
	var action string
	switch f.Type {
	case flagBool:
	case flagDir:
		action = ":directory:_files -/"
	case flagFile:
		if len(f.Globs) > 0 {
			action = fmt.Sprintf(":file:_files -g \"*.(%s)\"", strings.Join(f.Globs, "|"))
		} else {
			action = ":file:_files"
		}
	default:
		action = ":value: "
	}

	if f.Short == "" {
		return fmt.Sprintf("'--%s[%s]%s'", f.Long, desc, action)
	}
	return fmt.Sprintf("'(-%s --%s)'{-%s,--%s}'[%s]%s'", f.Short, f.Long, f.Short, f.Long, desc, action)
}

func zshEscape(s string) string {
	return strings.NewReplacer("'", "", "[", "(", "]", ")", ":", " -").Replace(s)
}

func generateFish(w io.Writer, cmds []commandDef) error {
	var b strings.Builder
	b.WriteString("# fish completion for office2pdf\n")
	b.WriteString("complete -c office2pdf -f\n")
	for _, c := range cmds {
		fmt.Fprintf(&b, "complete -c office2pdf -n __fish_use_subcommand -a %s -d '%s'\n", c.Name, fishEscape(c.Desc))
	}

	for _, c := range cmds {
		cond := fmt.Sprintf("'__fish_seen_subcommand_from %s'", c.Name)
		for _, f := range c.Flags {
			line := fmt.Sprintf("complete -c office2pdf -n %s -l %s", cond, f.Long)
			if f.Short != "" {
				line += " -s " + f.Short
			}
			switch f.Type {
			case flagBool:
			case flagDir:
				line += " -x -a '(__fish_complete_directories)'"
			case flagFile:
				line += " -r -F"
			default:
				line += " -x"
			}
			fmt.Fprintf(&b, "%s -d '%s'\n", line, fishEscape(f.Desc))
		}
		switch {
		case len(c.FileGlobs) > 0:
			for _, g := range c.FileGlobs {
				fmt.Fprintf(&b, "complete -c office2pdf -n %s -k -a '(__fish_complete_suffix .%s)'\n", cond, g)
			}
		case c.TakesNames:
			fmt.Fprintf(&b, "complete -c office2pdf -n %s -a '%s'\n", cond, commandNames(cmds))
		case c.Name == "completion":
			fmt.Fprintf(&b, "complete -c office2pdf -n %s -a 'bash zsh fish'\n", cond)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func fishEscape(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}

// printCompletionUsage prints help for the completion command.
func printCompletionUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: office2pdf completion <shell>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Generate shell completion script for the specified shell.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Supported shells:")
	fmt.Fprintln(w, "  bash        Bash completion script")
	fmt.Fprintln(w, "  zsh         Zsh completion script")
	fmt.Fprintln(w, "  fish        Fish completion script")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Installation:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Bash:")
	fmt.Fprintln(w, "    # Add to ~/.bashrc:")
	fmt.Fprintln(w, "    eval \"$(office2pdf completion bash)\"")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Zsh:")
	fmt.Fprintln(w, "    # Add to ~/.zshrc (before compinit):")
	fmt.Fprintln(w, "    eval \"$(office2pdf completion zsh)\"")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Fish:")
	fmt.Fprintln(w, "    office2pdf completion fish > ~/.config/fish/completions/office2pdf.fish")
}
