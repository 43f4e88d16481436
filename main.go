package main

import "github.com/mvelasco/photo-mapper/cmd"

func main() {
	cmd.Execute()
}
