// SPDX-License-Identifier: MIT
package main

import "github.com/skaphos/forkkeeper/cmd/forkkeeper"

var execute = forkkeeper.Execute

func main() {
	execute()
}
