// imposter CLI - Command-line interface for the imposter mock server
package main

import "github.com/getmockd/imposter/pkg/cli"

func main() {
	cli.Execute()
}
