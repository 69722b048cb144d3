package main

import (
	"context"
	"os"

	"tradedesk/internal/cli"
	"tradedesk/internal/logging"
)

func main() {
	logger := logging.NewLogger()

	root := cli.NewRootCmd(logger)
	if err := root.ExecuteContext(context.Background()); err != nil {
		root.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
