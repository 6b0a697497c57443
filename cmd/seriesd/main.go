// Command seriesd serves the recurring event API and offers operator tools
// for migrating the database and expanding ad-hoc patterns.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
