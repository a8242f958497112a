// Command notes is the device side of notesync: it edits notes in a local
// store that works offline and syncs queued changes to a notesd server.
package main

func main() {
	Execute()
}
