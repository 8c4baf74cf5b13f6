package main

import (
	"os"

	"github.com/tsamsiyu/themelio/cmd/themelioctl/cmd"
)

func main() {
	if err := cmd.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
