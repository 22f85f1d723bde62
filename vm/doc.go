// Package vm implements the Mote virtual machine.
//
// This package contains:
//   - Tagged value representation (nil, boolean, number, string)
//   - The bytecode chunk and its opcode table
//   - A chunk disassembler
//   - The stack-based bytecode interpreter and its global table
//   - CBOR snapshots of the global table
//
// The compiler lives in package compiler and is injected with UseCompiler.
package vm
