package main

import "github.com/mit-pdos/go-dboe/cmd"

func main() {
	cmd.Execute()
}
