package main

import "github.com/OpenTraceLab/OpenTraceFTDI/cmd/otf/cmd"

func main() {
	cmd.Execute()
}
