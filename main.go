package main

import "github.com/wikilift/sle-suite-pro/cmd"

func main() {
	cmd.Execute()
}
