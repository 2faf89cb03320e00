// The main package for the pagecapture executable.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"github.com/JakeFAU/pagecapture/cmd"
)

// main loads an optional .env file and hands off to the Cobra CLI.
func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	cmd.Execute()
}
