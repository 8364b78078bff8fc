// Package main provides a CLI tool for minting credential tokens.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/store"
)

func main() {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	address := flag.String("address", "", "identity address to mint a token for (required)")
	create := flag.Bool("create", false, "create the identity if it does not exist")
	ttl := flag.Duration("ttl", 0, "token lifetime override (0 = configured default)")
	flag.Parse()

	if *address == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *ttl > 0 {
		cfg.Auth.TokenTTL = *ttl
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	durable, err := store.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer durable.Close()

	if _, err := durable.IdentityByAddress(ctx, *address); err != nil {
		if !errors.Is(err, chat.ErrIdentityNotFound) {
			log.Fatalf("looking up identity %q: %v", *address, err)
		}
		if !*create {
			log.Fatalf("identity %q does not exist (use -create to create it)", *address)
		}
		if _, err := durable.CreateIdentity(ctx, *address); err != nil {
			log.Fatalf("creating identity %q: %v", *address, err)
		}
	}

	verifier := auth.NewVerifier(cfg.Auth)
	token, err := verifier.Mint(*address)
	if err != nil {
		log.Fatalf("minting token: %v", err)
	}

	fmt.Fprintf(os.Stdout, "token for %s (ttl=%s):\n%s\n", *address, cfg.Auth.TokenTTL, token)
}
