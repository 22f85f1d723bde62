package server

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/mote/compiler"
	"github.com/chazu/mote/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "mote-lsp"

// document is an open editor buffer and what running it produced.
type document struct {
	text    string
	globals map[string]vm.Value // globals after the last clean run
	names   []string            // names declared with var, in source order
}

// LspServer provides editor features for Mote documents. Every open
// document is compiled on change and, when it compiles, run on a private VM
// with output discarded so hover can show global values.
type LspServer struct {
	worker *VMWorker
	opts   []compiler.Option

	mu   sync.Mutex
	docs map[string]*document // URI → document

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server. compileOpts configure the compiler used
// for diagnostics.
func NewLSP(compileOpts ...compiler.Option) *LspServer {
	v := vm.NewVM(vm.WithOutput(io.Discard), vm.WithDiagnostics(io.Discard))
	s := &LspServer{
		worker:  NewVMWorker(v),
		opts:    compileOpts,
		docs:    make(map[string]*document),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("Mote LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.update(ctx, params.TextDocument.URI, params.TextDocument.Text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.update(ctx, params.TextDocument.URI, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// update analyzes new document text, stores the result and publishes
// diagnostics.
func (s *LspServer) update(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	result, err := s.worker.Do(func(v *vm.VM) interface{} {
		return s.analyze(v, text)
	})
	if err != nil {
		log.Errorf("analyzing %s: %s", uri, err)
		return
	}
	a := result.(*analysis)

	s.mu.Lock()
	s.docs[string(uri)] = &document{text: text, globals: a.globals, names: a.names}
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: a.diagnostics,
	})
}

// --- Analysis (called on worker goroutine) ---

type analysis struct {
	diagnostics []protocol.Diagnostic
	globals     map[string]vm.Value
	names       []string
}

// analyze compiles text and, when that succeeds, runs it from a clean global
// table. Compile errors become error diagnostics and a runtime error becomes
// a warning.
func (s *LspServer) analyze(v *vm.VM, text string) *analysis {
	a := &analysis{
		diagnostics: []protocol.Diagnostic{},
		names:       declaredNames(text),
	}

	chunk := vm.NewChunk()
	opts := append(append([]compiler.Option(nil), s.opts...), compiler.WithDiagnostics(io.Discard))
	c := compiler.New(text, chunk, opts...)
	if c.Compile() {
		for _, d := range c.Diagnostics() {
			a.diagnostics = append(a.diagnostics, lineDiagnostic(text, d.Line, protocol.DiagnosticSeverityError, d.Error()))
		}
		return a
	}

	v.ResetGlobals()
	if v.Run(chunk) == vm.InterpretRuntimeError {
		if rerr := v.LastError(); rerr != nil {
			a.diagnostics = append(a.diagnostics, lineDiagnostic(text, rerr.Line, protocol.DiagnosticSeverityWarning, rerr.Message))
		}
	}

	a.globals = make(map[string]vm.Value)
	for _, name := range v.GlobalNames() {
		a.globals[name], _ = v.Global(name)
	}
	return a
}

// lineDiagnostic spans the whole of a 1-based source line.
func lineDiagnostic(text string, line int, severity protocol.DiagnosticSeverity, message string) protocol.Diagnostic {
	lines := strings.Split(text, "\n")
	idx := line - 1
	if idx < 0 {
		idx = 0
	}
	width := 0
	if idx < len(lines) {
		width = len(lines[idx])
	}
	source := lspName
	return protocol.Diagnostic{
		Range: protocol.Range{
			Start: protocol.Position{Line: protocol.UInteger(idx), Character: 0},
			End:   protocol.Position{Line: protocol.UInteger(idx), Character: protocol.UInteger(width)},
		},
		Severity: &severity,
		Source:   &source,
		Message:  message,
	}
}

// declaredNames returns the names introduced by var declarations.
func declaredNames(text string) []string {
	var names []string
	seen := make(map[string]bool)
	toks := compiler.Tokenize(text)
	for i := 0; i+1 < len(toks); i++ {
		if toks[i].Type != compiler.TokenVar || toks[i+1].Type != compiler.TokenIdentifier {
			continue
		}
		name := toks[i+1].Lexeme
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	s.mu.Lock()
	doc, ok := s.docs[string(params.TextDocument.URI)]
	s.mu.Unlock()

	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(doc.text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return complete(doc, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	s.mu.Lock()
	doc, ok := s.docs[string(params.TextDocument.URI)]
	s.mu.Unlock()

	if !ok {
		return nil, nil
	}

	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(doc, word), nil
}

func complete(doc *document, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem

	for _, word := range compiler.Keywords() {
		if strings.HasPrefix(word, prefix) {
			kind := protocol.CompletionItemKindKeyword
			detail := "keyword"
			text := word
			items = append(items, protocol.CompletionItem{
				Label:      word,
				Kind:       &kind,
				Detail:     &detail,
				InsertText: &text,
			})
		}
	}

	names := append([]string(nil), doc.names...)
	for name := range doc.globals {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := make(map[string]bool)
	for _, name := range names {
		if seen[name] || !strings.HasPrefix(name, prefix) {
			continue
		}
		seen[name] = true
		kind := protocol.CompletionItemKindVariable
		detail := "global"
		if v, ok := doc.globals[name]; ok {
			detail = "global " + v.Kind().String()
		}
		nameCopy := name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &nameCopy,
		})
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items
}

func hover(doc *document, word string) *protocol.Hover {
	v, ok := doc.globals[word]
	if !ok {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (%s)\n\n", word, v.Kind())
	fmt.Fprintf(&b, "`%s`", v.GoString())

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

// --- Text extraction helpers ---

// extractPrefix returns the identifier fragment before the cursor for
// completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isIdentChar(rune(line[start-1])) {
		start--
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Find start
	start := col
	for start > 0 && isIdentChar(rune(line[start-1])) {
		start--
	}

	// Find end
	end := col
	for end < len(line) && isIdentChar(rune(line[end])) {
		end++
	}

	if start == end {
		return ""
	}

	return line[start:end]
}

func isIdentChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

func boolPtr(b bool) *bool {
	return &b
}
