package main

import "github.com/Layr-Labs/runtime-indexer/cmd"

func main() {
	cmd.Execute()
}
