// Command meetclient is a headless endpoint for the signaling relay. It joins
// a room with synthetic media and reports call progress, or watches presence.
package main

func main() {
	Execute()
}
