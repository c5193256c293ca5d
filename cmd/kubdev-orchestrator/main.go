package main

import "github.com/scoutflo/kubdev-orchestrator/cmd/kubdev-orchestrator/cmd"

func main() {
	cmd.Execute()
}
