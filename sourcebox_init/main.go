package main

import "sourcebox/anchor"

// sourcebox-init: PID 1 of every box. Arguments and environment are ignored.
func main() {
	anchor.Run()
}
