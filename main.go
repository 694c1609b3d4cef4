// Command tap-acuite is a Singer tap for the Acuite API.
package main

import "github.com/JakeFAU/tap-acuite/cmd"

func main() {
	cmd.Execute()
}
