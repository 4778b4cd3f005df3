package main

import "rocforge/internal/rocforge"

func main() {
	rocforge.Main()
}
