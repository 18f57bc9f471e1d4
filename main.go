package main

import "github.com/opaqueref/visitor/cmd"

func main() {
	cmd.Execute()
}
