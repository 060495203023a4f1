package main

import "github.com/nextlevelbuilder/agentscope/cmd"

func main() {
	cmd.Execute()
}
