package manifest

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// schemaSource constrains a decoded manifest. Field names follow the json
// tags on Manifest.
const schemaSource = `
#Manifest: {
	project: {
		name:  "" | =~"^[A-Za-z_][A-Za-z0-9_-]*$"
		entry: string
	}
	compiler: {
		"max-nesting": int & >0 & <=65536
		disassemble:   bool
	}
	vm: trace: bool
	server: {
		port:        int & >0 & <65536
		"grpc-port": int & >0 & <65536 & !=port
	}
	history: {
		path:    string & !=""
		enabled: bool
	}
}
`

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error

	// cue.Context is not safe for concurrent use.
	schemaMu sync.Mutex
)

func loadSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileString(schemaSource, cue.Filename("mote.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compiling manifest schema: %w", err)
			return
		}
		schemaDef = v.LookupPath(cue.ParsePath("#Manifest"))
	})
	return schemaCtx, schemaDef, schemaErr
}

// Validate checks the manifest against the manifest schema.
func (m *Manifest) Validate() error {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	ctx, schema, err := loadSchema()
	if err != nil {
		return err
	}

	val := ctx.Encode(m)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	if err := schema.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s", cueerrors.Details(err, nil))
	}
	return nil
}
