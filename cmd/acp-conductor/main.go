// Command acp-conductor runs the ACP protocol conductor.
package main

import "github.com/acpconductor/conductor/cmd/acp-conductor/cmd"

func main() {
	cmd.Execute()
}
