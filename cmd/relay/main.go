package main

import (
	"fmt"
	"os"

	"github.com/telekom/kintone-mail-relay/pkg/cli"
)

func main() {
	root := cli.NewRootCommand(cli.DefaultConfig(), nil)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
