// Command fiber drives fuel-bounded guest wasm invocations as cooperative
// tasks on one or more single-threaded event loops.
package main

func main() {
	Execute()
}
