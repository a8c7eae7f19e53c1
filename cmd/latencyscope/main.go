package main

import (
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/cmd/latencyscope/commands"
)

func main() {
	commands.Execute()
}
