// SPDX-License-Identifier: Apache-2.0

// Command binarytrees runs the binary-trees benchmark against a mark-sweep
// or mostly-copying pool.
package main

func main() {
	execute()
}
