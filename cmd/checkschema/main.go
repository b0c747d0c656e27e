// Package main provides a schema check for exported catalog files.
package main

import (
	"flag"
	"fmt"
	"os"

	"horizon/internal/ledger"
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("Usage: ./bin/checkschema <catalog.csv> [...]")
		os.Exit(1)
	}

	failed := false

	for _, path := range flag.Args() {
		rows, err := ledger.ValidateSchema(path)
		if err != nil {
			fmt.Printf("❌ %s: %v\n", path, err)

			failed = true

			continue
		}

		fmt.Printf("✅ %s: schema matches, %d data rows\n", path, rows)
	}

	if failed {
		os.Exit(1)
	}
}
