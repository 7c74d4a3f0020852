// The main package for the webmentions executable.
package main

import (
	"github.com/JakeFAU/webmentions/cmd"
)

func main() {
	cmd.Execute()
}
