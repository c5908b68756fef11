package main

import "farmkpi/cmd"

func main() {
	cmd.Execute()
}
