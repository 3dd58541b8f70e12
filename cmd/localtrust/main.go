package main

import (
	"github.com/awnumar/memguard"

	"github.com/jmcleod/localtrust/cmd/localtrust/cmd"
)

func main() {
	defer memguard.Purge()
	cmd.Execute()
}
