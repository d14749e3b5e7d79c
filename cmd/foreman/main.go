package main

import "github.com/stillwater-dev/foreman/internal/cmd"

func main() {
	cmd.Execute()
}
