// Command msgtap runs the message logger server and talks to a running one.
package main

func main() {
	Execute()
}
