package main

import (
	"os"

	"github.com/spineflow/engine/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
