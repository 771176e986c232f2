package main

import (
	"os"

	"github.com/nomis52/posrunner/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
