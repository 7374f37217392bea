package main

import (
	"flag"
	"fmt"

	"github.com/meshflow/meshflow-server/pkg/auth"
)

func main() {
	token := flag.Bool("token", false, "Generate a user bearer token instead of an API key")
	flag.Parse()

	var secret string
	var err error
	if *token {
		secret, err = auth.RandomHex(32)
	} else {
		secret, err = auth.NewAPIKeySecret()
	}
	if err != nil {
		fmt.Printf("Error generating secret: %v\n", err)
		return
	}

	// Only the hash goes in the database; the secret is shown once.
	fmt.Printf("Secret: %s\n", secret)
	fmt.Printf("Hash:   %s\n", auth.HashSecret(secret))
}
