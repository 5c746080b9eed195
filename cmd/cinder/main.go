package main

import (
	"bufio"
	"fmt"
	"os"

	cinder "github.com/xirelogy/go-cinder"
)

func main() {
	switch len(os.Args) {
	case 1:
		repl()
	case 2:
		runFile(os.Args[1])
	default:
		fmt.Fprintln(os.Stderr, "Usage: cinder [path]")
		os.Exit(64)
	}
}

func runFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not open file %q.\n", path)
		os.Exit(74)
	}
	switch cinder.NewEngine().Interpret(string(data)) {
	case cinder.ResultCompileError:
		os.Exit(65)
	case cinder.ResultRuntimeError:
		os.Exit(70)
	}
}

// repl evaluates one line at a time on a shared engine so globals
// persist between lines.
func repl() {
	engine := cinder.NewEngine()
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			fmt.Println()
			return
		}
		engine.Interpret(in.Text())
	}
}
