package cmd

import (
	"fmt"
	"io"
)

const banner = `
  _                 _ _                  _
 | | ___   ___ __ _| | |_ _ __ _   _ ___| |_
 | |/ _ \ / __/ _` + "`" + ` | | __| '__| | | / __| __|
 | | (_) | (_| (_| | | |_| |  | |_| \__ \ |_
 |_|\___/ \___\__,_|_|\__|_|   \__,_|___/\__|

`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Local Development Trust Chain - Version %s\x1b[0m\n\n", Version)
}
