package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/peachjit/peachjit/internal/abi"
	"github.com/peachjit/peachjit/internal/config"
	"github.com/peachjit/peachjit/internal/disasm"
	"github.com/peachjit/peachjit/internal/isa/amd64"
	"github.com/peachjit/peachjit/internal/jitapi"
	"github.com/peachjit/peachjit/internal/loader"
)

func main() {
	doMain(os.Stdout, os.Stderr, os.Args[1:], os.Exit)
}

// doMain is separated out for the purpose of unit testing.
func doMain(stdOut, stdErr io.Writer, args []string, exit func(code int)) {
	root := newRootCmd()
	root.SetOut(stdOut)
	root.SetErr(stdErr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		exit(1)
		return
	}
	exit(0)
}

// flags holds the command line overrides of the configured options.
type flags struct {
	verbose    bool
	configPath string

	abi        string
	format     string
	output     string
	pkg        string
	debugLevel int
	bundleSize int
	optimize   bool
}

func newRootCmd() *cobra.Command {
	var fl flags
	root := &cobra.Command{
		Use:   "peachjit",
		Short: "x86-64 JIT assembler",
		Long: `peachjit assembles functions written against virtual registers into x86-64 machine code
for a chosen calling convention.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !fl.verbose {
				return nil
			}
			l, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			jitapi.SetLogger(l)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = jitapi.Logger().Sync()
			jitapi.SetLogger(nil)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().BoolVarP(&fl.verbose, "verbose", "v", false, "Log pipeline stages to stderr")
	root.PersistentFlags().StringVar(&fl.configPath, "config", "", "Options file, "+config.FileName+" by default when present")

	abisCmd := &cobra.Command{
		Use:   "abis",
		Short: "List the supported calling conventions",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			host := abi.Detect()
			for _, a := range abi.All() {
				marker := ""
				if a == host {
					marker = " (host)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s%s\n", a.Key, a.Name, marker)
			}
		},
	}

	kernelsCmd := &cobra.Command{
		Use:   "kernels",
		Short: "List the sample kernels",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range kernelNames() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", name, kernels[name].doc)
			}
		},
	}

	buildCmd := &cobra.Command{
		Use:   "build <kernel>",
		Short: "Assemble a sample kernel and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doBuild(cmd, &fl, args[0])
		},
	}
	addOptionFlags(buildCmd, &fl)
	buildCmd.Flags().StringVarP(&fl.output, "output", "o", "asm", "Output: asm, listing, hex or disasm")

	loadCmd := &cobra.Command{
		Use:   "load <kernel>",
		Short: "Assemble a sample kernel for the host and map it into executable memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doLoad(cmd, &fl, args[0])
		},
	}
	addOptionFlags(loadCmd, &fl)

	nopsCmd := &cobra.Command{
		Use:   "nops",
		Short: "Print the NOP instructions used for padding",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for n := 1; n <= 15; n++ {
				fmt.Fprintf(cmd.OutOrStdout(), "%2d  %s\n", n, hex.EncodeToString(amd64.NOPBytes(n)))
			}
		},
	}

	root.AddCommand(abisCmd, kernelsCmd, buildCmd, loadCmd, nopsCmd)
	return root
}

func addOptionFlags(cmd *cobra.Command, fl *flags) {
	cmd.Flags().StringVar(&fl.abi, "abi", "", "Calling convention, see the abis command")
	cmd.Flags().StringVar(&fl.format, "format", "", "Assembly syntax: peachpy or gnu")
	cmd.Flags().StringVar(&fl.pkg, "package", "", "Go package of the function in Go assembly listings")
	cmd.Flags().IntVar(&fl.debugLevel, "debug", 0, "Record the source location of instructions when above zero")
	cmd.Flags().IntVar(&fl.bundleSize, "bundle", 0, "Bundle size: 16, 32 or 64, 0 for the ABI default")
	cmd.Flags().BoolVar(&fl.optimize, "optimize", false, "Reduce bundle padding with longer encodings")
}

// options merges the defaults, the options file, the environment and the command line, in increasing precedence.
func options(cmd *cobra.Command, fl *flags) (config.Options, error) {
	o := config.Default()
	path := fl.configPath
	if path == "" {
		if _, err := os.Stat(config.FileName); err == nil {
			path = config.FileName
		}
	}
	if path != "" {
		var err error
		if o, err = config.Load(path); err != nil {
			return config.Options{}, err
		}
	}
	o = config.FromEnv(o)

	set := cmd.Flags().Changed
	if set("abi") {
		o.ABI = fl.abi
	}
	if set("format") {
		o.Format = fl.format
	}
	if set("package") {
		o.Package = fl.pkg
	}
	if set("debug") {
		o.DebugLevel = fl.debugLevel
	}
	if set("bundle") {
		o.BundleSize = fl.bundleSize
	}
	if set("optimize") {
		o.OptimizeBundles = fl.optimize
	}
	return o, o.Validate()
}

func doBuild(cmd *cobra.Command, fl *flags, name string) error {
	o, err := options(cmd, fl)
	if err != nil {
		return err
	}
	a, err := o.TargetABI()
	if err != nil {
		return err
	}
	af, err := buildKernel(name, a, o.FunctionOptions())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if fl.output == "asm" {
		s, err := o.Syntax()
		if err != nil {
			return err
		}
		fmt.Fprint(out, af.Listing(s))
		return nil
	}

	e, err := o.Encode(af)
	if err != nil {
		return err
	}
	switch fl.output {
	case "listing":
		fmt.Fprint(out, e.Listing())
	case "hex":
		fmt.Fprintln(out, hex.EncodeToString(e.Code()))
	case "disasm":
		fmt.Fprint(out, disasm.Listing(e.Name(), e.Code(), disasm.SyntaxIntel))
	default:
		return fmt.Errorf("unknown output %q", fl.output)
	}
	return nil
}

func doLoad(cmd *cobra.Command, fl *flags, name string) error {
	o, err := options(cmd, fl)
	if err != nil {
		return err
	}
	a, err := o.TargetABI()
	if err != nil {
		return err
	}
	if host := abi.Detect(); a != host {
		return fmt.Errorf("cannot load %s functions on this host", a)
	}
	af, err := buildKernel(name, a, o.FunctionOptions())
	if err != nil {
		return err
	}
	e, err := o.Encode(af)
	if err != nil {
		return err
	}
	img, err := loader.Load(e)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d bytes of code, %d bytes of data, %d relocations\n",
		img.Name(), len(img.Code()), len(img.Data()), len(e.Relocations()))
	return img.Release()
}
