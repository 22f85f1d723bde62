package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/mote/compiler"
	"github.com/chazu/mote/history"
	"github.com/chazu/mote/vm"
)

const defaultHistoryLines = 20

// repl is an interactive read-eval-print loop. Each line is interpreted on
// its own; globals persist between lines.
type repl struct {
	vm      *vm.VM
	history *history.Store // nil disables recording
	session string
	compile []compiler.Option
	out     io.Writer
}

func newREPL(v *vm.VM, hist *history.Store, compileOpts []compiler.Option, out io.Writer) *repl {
	return &repl{
		vm:      v,
		history: hist,
		session: "repl-" + uuid.NewString(),
		compile: compileOpts,
		out:     out,
	}
}

// run reads lines from in until EOF or exit.
func (r *repl) run(in io.Reader) {
	fmt.Fprintln(r.out, "Mote REPL (type 'exit' to quit, ':help' for commands)")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			fmt.Fprintln(r.out)
			return
		case strings.HasPrefix(line, ":"):
			r.command(line)
		default:
			r.eval(line)
		}
	}

	fmt.Fprintln(r.out)
}

func (r *repl) eval(line string) {
	result := r.vm.Interpret(line)
	if r.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.history.Record(ctx, r.session, line, int(result)); err != nil {
		log.Warningf("recording history: %s", err)
	}
}

// command handles REPL meta-commands.
func (r *repl) command(line string) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case ":help", ":h", ":?":
		fmt.Fprintln(r.out, "REPL Commands:")
		fmt.Fprintln(r.out, "  :help, :h, :?     Show this help")
		fmt.Fprintln(r.out, "  :globals          List global variables")
		fmt.Fprintln(r.out, "  :history [n]      Show the last n inputs")
		fmt.Fprintln(r.out, "  :dis <source>     Show bytecode for source without running it")
		fmt.Fprintln(r.out, "  exit, quit        Exit REPL")
	case ":globals":
		names := r.vm.GlobalNames()
		if len(names) == 0 {
			fmt.Fprintln(r.out, "(no globals)")
		}
		for _, name := range names {
			v, _ := r.vm.Global(name)
			fmt.Fprintf(r.out, "%s = %s\n", name, v.GoString())
		}
	case ":history":
		r.showHistory(arg)
	case ":dis":
		r.disassemble(arg)
	default:
		fmt.Fprintf(r.out, "Unknown command: %s (type :help for commands)\n", cmd)
	}
}

func (r *repl) showHistory(arg string) {
	if r.history == nil {
		fmt.Fprintln(r.out, "History is disabled")
		return
	}
	limit := defaultHistoryLines
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			fmt.Fprintf(r.out, "Invalid count: %s\n", arg)
			return
		}
		limit = n
	}

	entries, err := r.history.Recent(context.Background(), r.session, limit)
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return
	}
	for _, e := range entries {
		marker := " "
		if vm.InterpretResult(e.Status) != vm.InterpretOK {
			marker = "!"
		}
		fmt.Fprintf(r.out, "%s %s\n", marker, e.Source)
	}
}

func (r *repl) disassemble(source string) {
	if source == "" {
		fmt.Fprintln(r.out, "Usage: :dis <source>")
		return
	}
	chunk := vm.NewChunk()
	opts := append(append([]compiler.Option(nil), r.compile...), compiler.WithDiagnostics(r.out))
	if compiler.New(source, chunk, opts...).Compile() {
		return
	}
	fmt.Fprint(r.out, chunk.Disassemble("code"))
}
