package main

import (
	"fmt"
	"os"

	"github.com/wattwatch/thermal-governor/internal/debugcli"
)

func main() {
	path := debugcli.DefaultSocketPath
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	if err := debugcli.RunClient(path); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
