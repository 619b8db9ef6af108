package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand(openDatabase)
	if err := cmd.Execute(); err != nil {
		var found *violationsFound
		if errors.As(err, &found) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
