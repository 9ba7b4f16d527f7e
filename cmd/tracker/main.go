package main

import (
	"fmt"
	"os"
)

func main() {
	c := newCLI()
	err := newRootCmd(c).Execute()
	if closeErr := c.close(); err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
