// Package main provides olplay, the OpenLineage playground CLI.
package main

import (
	"os"

	"github.com/correlator-io/openlineage-playground/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
