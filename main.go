package main

import "github.com/marketsense/marketsense/cmd"

func main() {
	cmd.Execute()
}
