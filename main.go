package main

import "github.com/nextlevelbuilder/climpire/cmd"

func main() {
	cmd.Execute()
}
