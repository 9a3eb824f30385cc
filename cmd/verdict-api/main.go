package main

import (
	"context"
	"fmt"
	"os"

	"verdict/internal/app"

	"github.com/aws/aws-lambda-go/lambda"
)

func main() {
	a, err := app.Load(context.Background())
	if err != nil {
		fmt.Printf("Error initializing verdict api: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	lambda.Start(a.Handler().Handle)
}
