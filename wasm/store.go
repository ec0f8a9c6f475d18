package wasm

import (
	"fmt"

	"go.uber.org/zap"
)

// HostFunc is an externally supplied callable bound to an external
// function entry, using the raw uint64 value representation.
type HostFunc func(args []uint64) (uint64, error)

// CodeGenerator compiles one module function into an executable code
// object. Implementations build the function's IR graph and lower it;
// direct calls must be recorded as relocations resolved through the
// instance's linker so they can be patched after all bodies exist.
type CodeGenerator interface {
	Compile(instance *Instance, index int) (*Code, error)
}

type (
	// Store owns module instances and drives instantiation.
	Store struct {
		gen       CodeGenerator
		logger    *zap.Logger
		externals map[string]HostFunc

		Instances map[string]*Instance
	}

	// Instance is one instantiated module: its linear memory, globals
	// area, code table and named exports.
	Instance struct {
		Module  *Module
		Memory  []byte
		Globals []byte
		Linker  *Linker

		Exports map[string]*ExportInstance
	}

	ExportInstance struct {
		Kind   ExportKind
		Code   *Code
		Memory []byte
	}
)

// ExportKind distinguishes what an export names.
type ExportKind = byte

const (
	ExportKindFunction ExportKind = 0x00
	ExportKindMemory   ExportKind = 0x01
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger installs a logger for instantiation progress; the default
// is a nop logger.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithExternals supplies the name-indexed map used to resolve external
// functions.
func WithExternals(externals map[string]HostFunc) StoreOption {
	return func(s *Store) { s.externals = externals }
}

// NewStore returns a store that compiles functions with gen.
func NewStore(gen CodeGenerator, opts ...StoreOption) *Store {
	s := &Store{
		gen:       gen,
		logger:    zap.NewNop(),
		externals: map[string]HostFunc{},
		Instances: map[string]*Instance{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Instantiate allocates memory and globals for the module, applies its
// data segments, compiles every function, links direct calls and
// registers exports. Any failure aborts instantiation and releases the
// buffers already allocated.
func (s *Store) Instantiate(m *Module, name string) (instance *Instance, err error) {
	instance = &Instance{
		Module:  m,
		Linker:  NewLinker(len(m.Functions)),
		Exports: map[string]*ExportInstance{},
	}
	rollback := instance
	defer func() {
		if err != nil {
			rollback.Memory = nil
			rollback.Globals = nil
		}
	}()

	if m.MemSizeLog2 > maxMemSizeLog2 {
		return nil, fmt.Errorf("%w: 1<<%d", ErrMemoryTooLarge, m.MemSizeLog2)
	}
	memSize := m.MemSizeBytes()
	instance.Memory = make([]byte, memSize)
	s.logger.Debug("allocated linear memory", zap.Uint32("bytes", memSize))

	for i, seg := range m.DataSegments {
		if !seg.Init {
			continue
		}
		if uint64(seg.DestAddr)+uint64(seg.SourceSize) > uint64(memSize) {
			return nil, fmt.Errorf("%w: segment %d writes [%d,+%d) into %d bytes",
				ErrDataSegmentBounds, i, seg.DestAddr, seg.SourceSize, memSize)
		}
		copy(instance.Memory[seg.DestAddr:],
			m.Bytes[seg.SourceOffset:seg.SourceOffset+seg.SourceSize])
		s.logger.Debug("applied data segment",
			zap.Int("segment", i),
			zap.Uint32("dest", seg.DestAddr),
			zap.Uint32("size", seg.SourceSize))
	}

	m.AssignGlobalOffsets()
	instance.Globals = make([]byte, m.GlobalsSize)
	s.logger.Debug("allocated globals area", zap.Uint32("bytes", m.GlobalsSize))

	for i, fn := range m.Functions {
		fnName := m.FunctionName(i)
		var code *Code
		if fn.External {
			host, ok := s.externals[fnName]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnresolvedImport, fnName)
			}
			code = adaptHostFunc(fn.Sig, host)
		} else {
			code, err = s.gen.Compile(instance, i)
			if err != nil {
				return nil, fmt.Errorf("compiling %s: %w", fnName, err)
			}
		}
		instance.Linker.Finish(uint32(i), code)
		s.logger.Debug("compiled function",
			zap.Int("index", i), zap.String("name", fnName),
			zap.Bool("external", fn.External))
	}

	patches := instance.Linker.Link()
	s.logger.Debug("linked module", zap.Int("patches", patches))

	for i, fn := range m.Functions {
		if !fn.Exported {
			continue
		}
		instance.Exports[m.FunctionName(i)] = &ExportInstance{
			Kind: ExportKindFunction,
			Code: instance.Linker.Code(uint32(i)),
		}
	}
	if m.MemExport {
		instance.Exports["memory"] = &ExportInstance{
			Kind:   ExportKindMemory,
			Memory: instance.Memory,
		}
	}

	s.Instances[name] = instance
	return instance, nil
}

// CallFunction invokes an exported function of an instantiated module.
func (s *Store) CallFunction(moduleName, funcName string, args ...uint64) (uint64, error) {
	instance, ok := s.Instances[moduleName]
	if !ok {
		return 0, fmt.Errorf("module '%s' not instantiated", moduleName)
	}
	return instance.Call(funcName, args...)
}

// Call invokes an exported function by name.
func (i *Instance) Call(name string, args ...uint64) (uint64, error) {
	exp, ok := i.Exports[name]
	if !ok {
		return 0, fmt.Errorf("%w: '%s'", ErrNoSuchExport, name)
	}
	if exp.Kind != ExportKindFunction {
		return 0, fmt.Errorf("%w: '%s'", ErrNotAFunction, name)
	}
	if len(args) != len(exp.Code.Sig.Params) {
		return 0, fmt.Errorf("'%s' takes %d arguments, got %d",
			name, len(exp.Code.Sig.Params), len(args))
	}
	return exp.Code.Call(args)
}

// adaptHostFunc wraps an external callable in a code object so call
// sites and exports treat it like compiled code.
func adaptHostFunc(sig *FunctionSig, host HostFunc) *Code {
	return &Code{
		Sig: sig,
		Body: func(args []uint64) (uint64, error) {
			if len(args) != len(sig.Params) {
				return 0, fmt.Errorf("external function takes %d arguments, got %d",
					len(sig.Params), len(args))
			}
			return host(args)
		},
	}
}
