// Mote CLI - runs scripts, the REPL, the evaluation server and the LSP
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/tliron/commonlog"

	"github.com/chazu/mote/compiler"
	"github.com/chazu/mote/history"
	"github.com/chazu/mote/manifest"
	"github.com/chazu/mote/server"
	"github.com/chazu/mote/vm"

	_ "github.com/tliron/commonlog/simple"
)

// Exit codes follow sysexits.h.
const (
	exitOK           = 0
	exitUsage        = 64
	exitCompileError = 65
	exitRuntimeError = 70
	exitIOError      = 74
)

var log = commonlog.GetLogger("mote.cli")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// options holds the effective configuration after flags override the
// manifest.
type options struct {
	verbose     bool
	disassemble bool
	trace       bool
	profile     bool
	serve       bool
	lsp         bool
	noHistory   bool
	port        int
	grpcPort    int
	maxNesting  int
	script      string
	historyPath string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("mote", flag.ContinueOnError)
	fs.SetOutput(stderr)

	verbose := fs.Bool("v", false, "Verbose output")
	disassemble := fs.Bool("d", false, "Print the bytecode listing before running")
	trace := fs.Bool("trace", false, "Trace every instruction to stderr")
	profile := fs.Bool("profile", false, "Print opcode execution counts to stderr on exit")
	serve := fs.Bool("serve", false, "Start the evaluation server (Connect HTTP + gRPC)")
	port := fs.Int("port", 0, "Connect server port (used with -serve)")
	grpcPort := fs.Int("grpc-port", 0, "gRPC server port (used with -serve)")
	lsp := fs.Bool("lsp", false, "Start the language server on stdio")
	noHistory := fs.Bool("no-history", false, "Do not record REPL or server input")
	maxNesting := fs.Int("max-nesting", 0, "Maximum expression nesting depth")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: mote [options] [script]\n\n")
		fmt.Fprintf(stderr, "Runs a Mote script, or starts the REPL when no script is given.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  mote                   # Start REPL\n")
		fmt.Fprintf(stderr, "  mote main.mote         # Run a script\n")
		fmt.Fprintf(stderr, "  mote -d main.mote      # Show bytecode, then run\n")
		fmt.Fprintf(stderr, "  mote -serve -port 8080 # Start evaluation server\n")
		fmt.Fprintf(stderr, "  mote -lsp              # Start language server on stdio\n")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return nil, errors.New("at most one script may be given")
	}

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
	}

	opts := &options{
		verbose:     *verbose,
		disassemble: m.Compiler.Disassemble || *disassemble,
		trace:       m.VM.Trace || *trace,
		profile:     *profile,
		serve:       *serve,
		lsp:         *lsp,
		noHistory:   !m.History.Enabled || *noHistory,
		port:        m.Server.Port,
		grpcPort:    m.Server.GRPCPort,
		maxNesting:  m.Compiler.MaxNesting,
		script:      m.EntryPath(),
		historyPath: m.HistoryPath(),
	}
	if *port != 0 {
		opts.port = *port
	}
	if *grpcPort != 0 {
		opts.grpcPort = *grpcPort
	}
	if *maxNesting != 0 {
		opts.maxNesting = *maxNesting
	}
	if fs.NArg() == 1 {
		opts.script = fs.Arg(0)
	}
	return opts, nil
}

func (o *options) compilerOptions(stderr io.Writer) []compiler.Option {
	opts := []compiler.Option{compiler.WithMaxDepth(o.maxNesting)}
	if o.disassemble {
		opts = append(opts, compiler.WithDisassembly(stderr))
	}
	return opts
}

// newVM creates a VM for script or REPL use. The returned report function
// writes the profile, if one was requested.
func (o *options) newVM(stdout, stderr io.Writer) (*vm.VM, func()) {
	vmOpts := []vm.Option{vm.WithOutput(stdout), vm.WithDiagnostics(stderr)}
	if o.trace {
		vmOpts = append(vmOpts, vm.WithTrace(stderr))
	}
	report := func() {}
	if o.profile {
		p := vm.NewProfiler()
		vmOpts = append(vmOpts, vm.WithProfiler(p))
		report = func() { p.WriteReport(stderr) }
	}
	v := vm.NewVM(vmOpts...)
	v.UseCompiler(compiler.Func(o.compilerOptions(stderr)...))
	return v, report
}

// openHistory opens the history store unless recording is disabled. A store
// that cannot be opened only costs the history feature.
func (o *options) openHistory(stderr io.Writer) *history.Store {
	if o.noHistory {
		return nil
	}
	store, err := history.Open(o.historyPath)
	if err != nil {
		fmt.Fprintf(stderr, "Warning: history disabled: %v\n", err)
		return nil
	}
	return store
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	verbosity := 0
	if opts.verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	switch {
	case opts.lsp:
		return runLSP(opts, stderr)
	case opts.serve:
		return runServer(opts, stderr)
	case opts.script != "":
		return runFile(opts, opts.script, stdout, stderr)
	default:
		v, report := opts.newVM(stdout, stderr)
		defer report()
		hist := opts.openHistory(stderr)
		if hist != nil {
			defer hist.Close()
		}
		newREPL(v, hist, opts.compilerOptions(io.Discard), stdout).run(stdin)
		return exitOK
	}
}

// runFile interprets one script and maps the outcome to an exit code.
func runFile(opts *options, path string, stdout, stderr io.Writer) int {
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Could not read file \"%s\": %v\n", path, err)
		return exitIOError
	}
	log.Debugf("running %s", path)

	v, report := opts.newVM(stdout, stderr)
	defer report()
	switch v.Interpret(string(source)) {
	case vm.InterpretCompileError:
		return exitCompileError
	case vm.InterpretRuntimeError:
		return exitRuntimeError
	}
	return exitOK
}

func runServer(opts *options, stderr io.Writer) int {
	hist := opts.openHistory(stderr)
	if hist != nil {
		defer hist.Close()
	}

	srv := server.New(
		server.WithHistory(hist),
		server.WithCompilerOptions(compiler.WithMaxDepth(opts.maxNesting)),
	)
	defer srv.Stop()

	errs := make(chan error, 2)
	go func() { errs <- srv.ListenAndServe(fmt.Sprintf(":%d", opts.port)) }()
	go func() { errs <- srv.ListenAndServeGRPC(fmt.Sprintf(":%d", opts.grpcPort)) }()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case err := <-errs:
		if err != nil {
			fmt.Fprintf(stderr, "Server error: %v\n", err)
			return 1
		}
	case sig := <-sigs:
		log.Infof("received %s, shutting down", sig)
	}
	return exitOK
}

func runLSP(opts *options, stderr io.Writer) int {
	lsp := server.NewLSP(compiler.WithMaxDepth(opts.maxNesting))
	if err := lsp.Run(); err != nil {
		fmt.Fprintf(stderr, "LSP error: %v\n", err)
		return 1
	}
	return exitOK
}
