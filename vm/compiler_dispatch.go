package vm

import "io"

// ---------------------------------------------------------------------------
// Compiler injection
// ---------------------------------------------------------------------------

// CompileFunc compiles source into chunk, writing any diagnostics to
// diagnostics, and reports whether an error occurred. A chunk from a failed
// compile is partial and must not be run.
//
// The vm package cannot import the compiler package (the compiler emits into
// vm.Chunk), so the host injects compiler.Compile through UseCompiler.
type CompileFunc func(source string, chunk *Chunk, diagnostics io.Writer) (hadError bool)

// UseCompiler installs the compiler used by Interpret and Compile.
func (vm *VM) UseCompiler(fn CompileFunc) {
	vm.compile = fn
}

// HasCompiler reports whether a compiler has been installed.
func (vm *VM) HasCompiler() bool {
	return vm.compile != nil
}

// Compile compiles source into a fresh chunk using the installed compiler.
// Diagnostics go to the VM's diagnostic stream. ok is false when the
// compile failed or no compiler is installed.
func (vm *VM) Compile(source string) (chunk *Chunk, ok bool) {
	if vm.compile == nil {
		vm.log.Errorf("compile requested but no compiler installed")
		return nil, false
	}
	chunk = NewChunk()
	if hadError := vm.compile(source, chunk, vm.errOut); hadError {
		return chunk, false
	}
	return chunk, true
}
