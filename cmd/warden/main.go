// Package main is the entry point for the warden server controller.
package main

import (
	"os"

	"github.com/wardenhq/warden/cmd/warden/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
