package main

import (
	"context"
	"log"

	"github.com/Tristan-Hancock/maya-web-sub000/app"
)

func main() {
	app.MustInitDB()
	app.InitStripe()

	a, err := app.NewApp(context.Background())
	if err != nil {
		log.Fatalf("failed to initialize app: %v", err)
	}
	router, err := app.NewRouter(a)
	if err != nil {
		log.Fatalf("failed to initialize router: %v", err)
	}
	router.Run("0.0.0.0:8080")
}
