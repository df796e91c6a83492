// Command roomdropd runs the RoomDrop gateway: a JSON + Server-Sent
// Events edge over the room engine. All lifecycle wiring lives in
// internal/app/bootstrap; WAFFLE's app.Run drives the hooks from config
// loading through graceful shutdown.
package main

import (
	"context"

	"github.com/dalemusser/waffle/app"

	"github.com/mossrock/roomdrop/internal/app/bootstrap"
)

func main() {
	app.Run(context.Background(), bootstrap.Hooks)
}
