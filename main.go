// Copyright 2025 Int3nts Protocol
//
// Trusted Cross-Chain Verifier Service
// Observes intents, escrows, and fulfillments across the hub and
// connected chains, validates cross-chain swaps, and signs approvals
// that settlement contracts verify before releasing escrowed funds.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/int3nts/trusted-verifier/pkg/cache"
	"github.com/int3nts/trusted-verifier/pkg/chain"
	"github.com/int3nts/trusted-verifier/pkg/config"
	"github.com/int3nts/trusted-verifier/pkg/poller"
	"github.com/int3nts/trusted-verifier/pkg/server"
	"github.com/int3nts/trusted-verifier/pkg/signer"
	"github.com/int3nts/trusted-verifier/pkg/solver"
	"github.com/int3nts/trusted-verifier/pkg/types"
	"github.com/int3nts/trusted-verifier/pkg/verifier"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("Starting Int3nts trusted verifier service")

	var (
		configPath = flag.String("config", "verifier.yaml", "Path to the YAML configuration file")
		showHelp   = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	// Load configuration and run the key-consistency self-check
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	keys, err := cfg.Keys()
	if err != nil {
		log.Fatalf("Key material self-check failed: %v", err)
	}
	log.Printf("Key material loaded: ed25519 ok, ecdsa verifier address %s", keys.ECDSAAddress.Hex())

	// The signer runs its own probe signatures at construction
	sig, err := signer.New(&signer.Config{
		Ed25519Private:              keys.Ed25519Private,
		ECDSAPrivate:                keys.ECDSAPrivate,
		LegacyApprovalValueEnvelope: cfg.Verifier.SignApprovalValueEnvelope,
	})
	if err != nil {
		log.Fatalf("Failed to initialize signer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Build the hub adapter plus one adapter per configured connected
	// chain
	hubAdapter, err := chain.NewMoveAdapter(&chain.MoveAdapterConfig{
		Descriptor:     cfg.HubDescriptor(),
		KnownAccounts:  cfg.HubChain.KnownAccounts,
		MaxBatch:       cfg.MaxBatch,
		RequestTimeout: cfg.RequestTimeout(),
		Logger:         log.New(log.Writer(), "[HUB] ", log.LstdFlags),
	})
	if err != nil {
		log.Fatalf("Failed to create hub adapter: %v", err)
	}
	log.Printf("Hub adapter ready: chain %d at %s", cfg.HubChain.ChainID, cfg.HubChain.RPCURL)

	var connected []chain.Adapter
	for _, desc := range cfg.ConnectedDescriptors() {
		adapter, err := buildConnectedAdapter(ctx, cfg, desc)
		if err != nil {
			log.Fatalf("Failed to create %s adapter for chain %d: %v", desc.Family, desc.ID, err)
		}
		connected = append(connected, adapter)
		log.Printf("Connected adapter ready: %s chain %d at %s", desc.Family, desc.ID, desc.RPCEndpoint)
	}

	adapters := chain.NewSet(hubAdapter, connected)
	eventCache := cache.New(cfg.CacheCapacityPerChain)
	registry := solver.NewRegistry(hubAdapter, cfg.RegistryTTL())

	validator := verifier.New(&verifier.Config{
		Cache:         eventCache,
		Adapters:      adapters,
		Registry:      registry,
		Signer:        sig,
		WaitForIntent: cfg.HubDescriptor().PollInterval() * 3,
	})

	correlator := verifier.NewCorrelator(eventCache, validator, nil)
	go correlator.Run(ctx)

	pollers := poller.NewGroup(adapters, eventCache, nil)
	pollers.Start(ctx)

	// HTTP surface
	api := server.New(&server.Config{
		Cache:           eventCache,
		Pollers:         pollers,
		Signer:          sig,
		Validator:       validator,
		OutflowDeadline: cfg.OutflowDeadline(),
	})
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      api.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.ListenAddr())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for shutdown signal; pollers stop at their next sleep
	// boundary and in-flight HTTP requests complete
	<-ctx.Done()
	log.Printf("Shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown: %v", err)
	}
	pollers.Wait()
	log.Printf("Verifier stopped")
}

// buildConnectedAdapter constructs the family-appropriate adapter for a
// connected chain descriptor
func buildConnectedAdapter(ctx context.Context, cfg *config.Config, desc *types.ChainDescriptor) (chain.Adapter, error) {
	switch desc.Family {
	case types.FamilyMove:
		return chain.NewMoveAdapter(&chain.MoveAdapterConfig{
			Descriptor:     desc,
			KnownAccounts:  connectedMoveAccounts(cfg),
			MaxBatch:       cfg.MaxBatch,
			RequestTimeout: cfg.RequestTimeout(),
			Logger:         log.New(log.Writer(), "[MOVE] ", log.LstdFlags),
		})
	case types.FamilyEVM:
		return chain.NewEVMAdapter(ctx, &chain.EVMAdapterConfig{
			Descriptor:     desc,
			MaxBatch:       cfg.MaxBatch,
			RequestTimeout: cfg.RequestTimeout(),
			Logger:         log.New(log.Writer(), "[EVM] ", log.LstdFlags),
		})
	case types.FamilySolana:
		return chain.NewSolanaAdapter(&chain.SolanaAdapterConfig{
			Descriptor:     desc,
			MaxBatch:       cfg.MaxBatch,
			RequestTimeout: cfg.RequestTimeout(),
			Logger:         log.New(log.Writer(), "[SOLANA] ", log.LstdFlags),
		})
	default:
		return nil, fmt.Errorf("unknown chain family %q", desc.Family)
	}
}

// connectedMoveAccounts lists the watched accounts on the Move connected
// chain; the escrow module address is always watched
func connectedMoveAccounts(cfg *config.Config) []string {
	if cfg.ConnectedChain == nil {
		return nil
	}
	accounts := cfg.ConnectedChain.KnownAccounts
	if cfg.ConnectedChain.EscrowModuleAddress != "" {
		accounts = append(accounts, cfg.ConnectedChain.EscrowModuleAddress)
	}
	return accounts
}

func printHelp() {
	fmt.Println("Int3nts trusted verifier")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  verifier -config verifier.yaml")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
