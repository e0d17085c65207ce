package main

import "github.com/nextlevelbuilder/goflock/cmd"

func main() {
	cmd.Execute()
}
