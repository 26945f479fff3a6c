package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"chatrelay/internal/completion"
	"chatrelay/internal/config"
	"chatrelay/internal/engine"
	"chatrelay/internal/events"
	"chatrelay/internal/remote"
	"chatrelay/internal/session"
	"chatrelay/internal/threads"
)

var (
	cfgMu      sync.Mutex
	currentCfg *config.Config
)

func setConfig(cfg *config.Config) {
	cfgMu.Lock()
	defer cfgMu.Unlock()
	currentCfg = cfg
}

func getConfig() *config.Config {
	cfgMu.Lock()
	defer cfgMu.Unlock()
	return currentCfg
}

// app bundles the wired core components for one command invocation.
type app struct {
	cfg     *config.Config
	ownerID string
	pub     *events.InMemoryPublisher
	store   remote.Store
	engine  *engine.Engine
	manager *threads.Manager
	coord   *session.Coordinator

	closeStore func() error
}

// newApp wires the core from the loaded configuration.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg := getConfig()
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}

	ownerID := cfg.Session.OwnerID
	if flag, _ := cmd.Flags().GetString("owner"); flag != "" {
		ownerID = flag
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, errors.New("owner id required: set session.owner_id or pass --owner")
	}

	pub := events.NewPublisher()

	var store remote.Store
	var closeStore func() error
	switch cfg.Store.Mode {
	case config.StoreModeHTTP:
		token := cfg.Store.Token
		if token == "" {
			prompted, err := promptSecret("Store token: ")
			if err != nil {
				return nil, err
			}
			token = prompted
		}
		httpStore, err := remote.NewHTTPStore(remote.HTTPStoreConfig{
			BaseURL: cfg.Store.BaseURL,
			Token:   func() string { return token },
			Timeout: cfg.Store.Timeout,
		})
		if err != nil {
			return nil, err
		}
		store = httpStore

	case config.StoreModeSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		sqlStore, err := remote.OpenSQLiteStore(cfg.Store.Path, remote.WithPublisher(pub))
		if err != nil {
			return nil, err
		}
		store = sqlStore
		closeStore = sqlStore.Close

	default:
		return nil, fmt.Errorf("unknown store mode %q", cfg.Store.Mode)
	}

	gateway, err := completion.NewHTTPGateway(completion.HTTPGatewayConfig{
		Endpoint:  cfg.Completion.Endpoint,
		APIKey:    cfg.Completion.APIKey,
		Model:     cfg.Completion.Model,
		MaxTokens: cfg.Completion.MaxTokens,
		Timeout:   cfg.Completion.Timeout,
	})
	if err != nil {
		return nil, err
	}

	eng := engine.New(store, gateway, pub)
	manager := threads.NewManager(store, pub)
	coord := session.NewCoordinator(eng, manager, store, pub)

	return &app{
		cfg:        cfg,
		ownerID:    ownerID,
		pub:        pub,
		store:      store,
		engine:     eng,
		manager:    manager,
		coord:      coord,
		closeStore: closeStore,
	}, nil
}

// Close drains outstanding work and releases the store.
func (a *app) Close() {
	a.coord.Close()
	if a.closeStore != nil {
		_ = a.closeStore()
	}
}

// promptSecret reads a credential from the terminal without echo.
func promptSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("store token not configured and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}
