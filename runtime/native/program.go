package native

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"gensim/runtime"
)

// Method is one constructor or externally-visible method body plus its
// schema (spec §4.3 "Schema extraction").
type Method struct {
	Positional []runtime.ParamSchema
	Named      []runtime.ParamSchema
	Return     string
	ReadOnly   bool
	Body       []Instr
}

// Program is a whole contract class assembled in Go: a constructor plus a
// named method table. It plays the role a compiled contract module would
// play in a real runtime (spec §4.3's "class" object) — loaded once per
// distinct code artifact and reused across deploys/schema queries.
type Program struct {
	ClassName string
	Ctor      Method
	Methods   map[string]Method
}

// NewProgram starts an empty program named className.
func NewProgram(className string) *Program {
	return &Program{ClassName: className, Methods: make(map[string]Method)}
}

// WithCtor sets the constructor body and parameter schema, returning p for
// chaining.
func (p *Program) WithCtor(params []runtime.ParamSchema, body ...Instr) *Program {
	p.Ctor = Method{Positional: params, Body: body}
	return p
}

// WithMethod registers a callable method, returning p for chaining.
func (p *Program) WithMethod(name string, readOnly bool, params []runtime.ParamSchema, returnType string, body ...Instr) *Program {
	p.Methods[name] = Method{Positional: params, Return: returnType, ReadOnly: readOnly, Body: body}
	return p
}

func (p *Program) schema() runtime.Schema {
	methods := make(map[string]runtime.MethodSchema, len(p.Methods))
	for name, m := range p.Methods {
		methods[name] = runtime.MethodSchema{
			Positional: m.Positional,
			Named:      m.Named,
			Return:     m.Return,
			ReadOnly:   m.ReadOnly,
		}
	}
	return runtime.Schema{
		ClassName: p.ClassName,
		Ctor:      runtime.MethodSchema{Positional: p.Ctor.Positional, Named: p.Ctor.Named},
		Methods:   methods,
	}
}

// class implements runtime.Class over a Program.
type class struct{ prog *Program }

func (c *class) Construct(h runtime.Host, args []any, kwargs map[string]any) (runtime.Instance, error) {
	if _, err := run(h, args, kwargs, c.prog.Ctor.Body); err != nil {
		return nil, fmt.Errorf("native: constructor %s: %w", c.prog.ClassName, err)
	}
	return &instance{prog: c.prog}, nil
}

func (c *class) Schema() runtime.Schema { return c.prog.schema() }

// instance implements runtime.Instance over a Program.
type instance struct{ prog *Program }

func (i *instance) Call(h runtime.Host, method string, args []any, kwargs map[string]any) (any, error) {
	m, ok := i.prog.Methods[method]
	if !ok {
		return nil, fmt.Errorf("native: unknown method %q on %s", method, i.prog.ClassName)
	}
	return run(h, args, kwargs, m.Body)
}

// Loader is the native backend's implementation of the engine's code-loader
// seam: deployed "code bytes" are an opaque key produced by Register, and
// Load resolves them back to the registered Program. A real systems-level
// decoder would instead parse a bytecode artifact; this is the in-process
// stand-in spec §1 treats as external ("the contract-code bytecode decoder
// ... is assumed to be a library").
type Loader struct {
	mu       sync.Mutex
	byDigest map[[32]byte]*Program
}

// NewLoader returns an empty Loader.
func NewLoader() *Loader {
	return &Loader{byDigest: make(map[[32]byte]*Program)}
}

// Register assigns code bytes to prog and returns them. The same className
// always yields the same code bytes, matching the content-hash addressing
// spec §4.3/§9 require of the engine's class cache.
func (l *Loader) Register(prog *Program) []byte {
	digest := sha256.Sum256([]byte("native:class:" + prog.ClassName))
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byDigest[digest] = prog
	return digest[:]
}

// Load resolves code bytes (as returned by Register) back to a Class.
func (l *Loader) Load(code []byte) (runtime.Class, error) {
	var digest [32]byte
	copy(digest[:], code)
	l.mu.Lock()
	prog, ok := l.byDigest[digest]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("native: no program registered for this code artifact")
	}
	return &class{prog: prog}, nil
}
