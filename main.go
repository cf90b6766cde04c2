package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/nharju/photobridge/internal/config"
	"github.com/nharju/photobridge/internal/store"
)

// Exit codes. Config and schema problems get their own code so cron
// wrappers can tell "fix your config" from "a phase fell over".
const (
	exitOK          = 0
	exitPhaseFailed = 1
	exitBadConfig   = 2
)

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		os.Exit(exitOK)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if errors.Is(err, config.ErrConfig) || errors.Is(err, store.ErrSchema) {
		os.Exit(exitBadConfig)
	}

	os.Exit(exitPhaseFailed)
}
