package main

import "fablink/cmd"

func main() {
	cmd.Execute()
}
