package main

import "github.com/Taichi-iskw/voxrefine/cmd"

func main() {
	cmd.Execute()
}
