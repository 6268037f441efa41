// Command apfsctl is a read-only explorer for Apple File System container
// images: raw disks, partitions, and .dmg files.
package main

import "github.com/apfscore/apfsro/cmd"

func main() {
	cmd.Execute()
}
