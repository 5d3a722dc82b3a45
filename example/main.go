package main

import (
	"fmt"
	"os"

	"github.com/ccontavalli/accounts/example/cmd"
)

func main() {
	if err := cmd.New().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
