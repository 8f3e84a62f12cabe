// ihookctl is a small command-line front end over the symbol
// resolution, import-table replacement and version surfaces of the
// ihook engine, in the teacher's subcommand-over-flag style (c67's
// cli.go/main.go).
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/xyproto/ihook"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return cmdHelp()
	}

	switch args[0] {
	case "resolve":
		return cmdResolve(args[1:])
	case "import-replace":
		return cmdImportReplace(args[1:])
	case "version", "--version", "-V":
		fmt.Println(ihook.GetVersion())
		return nil
	case "help", "--help", "-h":
		return cmdHelp()
	default:
		return fmt.Errorf("ihookctl: unknown command %q (try \"ihookctl help\")", args[0])
	}
}

func cmdResolve(args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: ihookctl resolve <image> <symbol>")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return fmt.Errorf("resolve: expected exactly 2 arguments, got %d", fs.NArg())
	}

	image, symbol := fs.Arg(0), fs.Arg(1)
	addr, err := ihook.ResolveSymbol(image, symbol)
	if err != nil {
		return fmt.Errorf("resolve: %w (code %d)", err, ihook.CodeOf(err))
	}
	fmt.Printf("%s!%s = %#x\n", image, symbol, addr)
	return nil
}

func cmdImportReplace(args []string) error {
	fs := flag.NewFlagSet("import-replace", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: ihookctl import-replace <image> <dll> <symbol> <fake-func-addr>")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 4 {
		fs.Usage()
		return fmt.Errorf("import-replace: expected exactly 4 arguments, got %d", fs.NArg())
	}

	image, dll, symbol := fs.Arg(0), fs.Arg(1), fs.Arg(2)
	fakeFunc, err := strconv.ParseUint(fs.Arg(3), 0, 64)
	if err != nil {
		return fmt.Errorf("import-replace: parsing fake-func-addr: %w", err)
	}

	orig, err := ihook.ImportTableReplace(image, dll, symbol, uintptr(fakeFunc))
	if err != nil {
		return fmt.Errorf("import-replace: %w (code %d)", err, ihook.CodeOf(err))
	}
	fmt.Printf("%s: %s!%s redirected, original = %#x\n", image, dll, symbol, orig)
	return nil
}

func cmdHelp() error {
	fmt.Println(ihook.GetVersion())
	fmt.Println(`
usage: ihookctl <command> [arguments]

commands:
  resolve <image> <symbol>                        resolve a symbol's runtime address
  import-replace <image> <dll> <symbol> <addr>    redirect an imported symbol's IAT slot
  version                                         print the version string
  help                                            show this message`)
	return nil
}
