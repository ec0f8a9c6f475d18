// Command protowasm decodes, verifies and runs binary modules.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/protowasm/protowasm/wasm"
	"github.com/protowasm/protowasm/wasm/interpreter"
	"github.com/protowasm/protowasm/wasm/ir"
)

var debug bool

func main() {
	root := &cobra.Command{
		Use:           "protowasm",
		Short:         "decode, verify and run binary modules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(
		&cobra.Command{
			Use:   "dump <module>",
			Short: "decode a module and print its tables",
			Args:  cobra.ExactArgs(1),
			RunE:  runDump,
		},
		&cobra.Command{
			Use:   "verify <module>",
			Short: "decode a module and verify every function body",
			Args:  cobra.ExactArgs(1),
			RunE:  runVerify,
		},
		&cobra.Command{
			Use:   "run <module> <export> [arg...]",
			Short: "instantiate a module and call an exported function",
			Args:  cobra.MinimumNArgs(2),
			RunE:  runRun,
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func logger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewNop(), nil
}

func decode(path string, verify bool) (*wasm.Module, error) {
	moduleBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config := wasm.DecodeConfig{}
	if verify {
		config.VerifyFunctions = true
		config.Verifier = func(m *wasm.Module, index int) *wasm.CodeError {
			fn := m.Functions[index]
			_, cerr := ir.BuildGraph(wasm.NewFunctionEnv(m, fn), fn.CodeStart, fn.CodeEnd)
			return cerr
		}
	}
	return wasm.DecodeModule(moduleBytes, config)
}

func runDump(cmd *cobra.Command, args []string) error {
	m, err := decode(args[0], false)
	if err != nil {
		return err
	}
	fmt.Printf("memory: %d bytes (exported: %v)\n", m.MemSizeBytes(), m.MemExport)
	for i, g := range m.Globals {
		fmt.Printf("global %d: %s %s offset=%d exported=%v\n",
			i, m.Name(g.NameOffset), wasm.MemTypeName(g.Type), g.Offset, g.Exported)
	}
	for i, fn := range m.Functions {
		fmt.Printf("function %d: %s %s code=[%d,%d) exported=%v external=%v\n",
			i, m.FunctionName(i), fn.Sig, fn.CodeStart, fn.CodeEnd, fn.Exported, fn.External)
	}
	for i, s := range m.DataSegments {
		fmt.Printf("data %d: dest=%d source=[%d,+%d) init=%v\n",
			i, s.DestAddr, s.SourceOffset, s.SourceSize, s.Init)
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	m, err := decode(args[0], true)
	if err != nil {
		return err
	}
	fmt.Printf("ok: %d functions verified\n", len(m.Functions))
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	m, err := decode(args[0], false)
	if err != nil {
		return err
	}
	log, err := logger()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	store := wasm.NewStore(interpreter.NewEngine(), wasm.WithLogger(log))
	instance, err := store.Instantiate(m, args[0])
	if err != nil {
		return err
	}

	callArgs := make([]uint64, 0, len(args)-2)
	for _, arg := range args[2:] {
		v, err := strconv.ParseInt(arg, 0, 64)
		if err != nil {
			return fmt.Errorf("argument %q: %w", arg, err)
		}
		callArgs = append(callArgs, uint64(v))
	}

	result, err := instance.Call(args[1], callArgs...)
	if err != nil {
		return err
	}
	exp := instance.Exports[args[1]]
	switch exp.Code.Sig.Return {
	case wasm.ValueTypeStmt:
		fmt.Println("ok")
	case wasm.ValueTypeF32:
		fmt.Println(wasm.DecodeF32(result))
	case wasm.ValueTypeF64:
		fmt.Println(wasm.DecodeF64(result))
	case wasm.ValueTypeI64:
		fmt.Println(wasm.DecodeI64(result))
	default:
		fmt.Println(wasm.DecodeI32(result))
	}
	return nil
}
