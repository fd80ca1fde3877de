package main

import "github.com/nethalo/dbalter/cmd"

func main() {
	cmd.Execute()
}
