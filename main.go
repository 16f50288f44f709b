package main

import "github.com/audiolibrelab/trialsync/cmd"

func main() {
	cmd.Execute()
}
