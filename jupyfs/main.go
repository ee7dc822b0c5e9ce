package main

import (
	"github.com/jupyfs/jupyfs/jupyfs/cmd"
)

func main() {
	cmd.Execute()
}
