// Command missionctl runs durable, multi-agent app generation missions.
package main

func main() {
	Execute()
}
