package main

import (
	"os"

	"github.com/alpacax/saucetunnel/cmd/saucetunnel/command"
)

func main() {
	os.Exit(command.Execute())
}
