// Command herald runs the notification decision engine.
package main

import (
	_ "time/tzdata"
)

func main() {
	Execute()
}
