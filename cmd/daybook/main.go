package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

var (
	version = "dev"
	commit  string
	date    string
)

func main() {
	// .env is optional; it usually only carries DAYBOOK_TELEGRAM_TOKEN.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "daybook: .env: %v\n", err)
	}
	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "daybook: %s\n", err.Error())
		os.Exit(1)
	}
}
