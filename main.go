package main

import "transmute/cmd"

func main() {
	cmd.Execute()
}
