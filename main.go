// graphdiff trains dual-stream discrete diffusion models on attributed
// graphs and reports structural statistics of real and generated graphs.
package main

import (
	"fmt"
	"os"

	"github.com/Benny93/graphdiff/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
