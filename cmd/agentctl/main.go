package main

import "card-agents/cmd/agentctl/cmd"

func main() {
	cmd.Execute()
}
