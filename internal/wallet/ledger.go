package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/parleylabs/parley/internal/config"
)

// ConfigureLedger validates the DID-registry configuration for the given
// identity. When ledger.enabled is set, the genesis transaction file must
// be reachable; a failure here is fatal to startup. Registry protocol
// traffic itself belongs to the ledger subsystem, not here.
func ConfigureLedger(ctx context.Context, conCtx *config.Context, identity *Identity, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if !conCtx.Settings.GetBool("ledger.enabled") {
		logger.Info("ledger support disabled")
		return nil
	}

	genesisURL := conCtx.Settings.GetString("ledger.genesis_url")
	if genesisURL == "" {
		return fmt.Errorf("ledger: ledger.enabled set but ledger.genesis_url missing")
	}

	reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, genesisURL, nil)
	if err != nil {
		return fmt.Errorf("ledger: bad genesis URL %q: %w", genesisURL, err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: fetch genesis transactions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("ledger: genesis URL %q returned %s", genesisURL, resp.Status)
	}

	logger.Info("ledger configured", "genesis", genesisURL, "did", identity.DID)
	return nil
}
