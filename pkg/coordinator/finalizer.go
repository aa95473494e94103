package coordinator

import (
	"context"
	"time"

	"github.com/keep-network/sbtc-signer/pkg/bitcoin"
	"github.com/keep-network/sbtc-signer/pkg/signererrors"
	"github.com/keep-network/sbtc-signer/pkg/store"
	"github.com/keep-network/sbtc-signer/pkg/store/model"
)

// Finalizer polls the most recently recorded package and calls
// rebuildWithRBF when the market fee rate is above the package's
// LastFees rate. It does not query the package's confirmation status,
// and observationWindow is stored but not consulted. Adapted from the
// teacher's maintainer/spv background control loop shape.
type Finalizer struct {
	store            store.Handle
	bitcoin          bitcoin.Client
	observationWindow time.Duration
}

func NewFinalizer(storeHandle store.Handle, bitcoinClient bitcoin.Client, observationWindow time.Duration) *Finalizer {
	return &Finalizer{store: storeHandle, bitcoin: bitcoinClient, observationWindow: observationWindow}
}

// Run polls until ctx is canceled, running one fee-rate check per
// tick.
func (f *Finalizer) Run(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := f.checkOnce(ctx); err != nil {
				logger.Warnw("finalizer check failed", "err", err)
			}
		}
	}
}

func (f *Finalizer) checkOnce(ctx context.Context) error {
	pkg, err := f.store.LatestPackage(ctx)
	if err != nil {
		return signererrors.Wrap(signererrors.Transient, "fetch latest package", err)
	}
	if pkg == nil || len(pkg.Transactions) == 0 {
		return nil
	}

	marketRate, err := f.bitcoin.EstimateFeeRate(ctx)
	if err != nil {
		return signererrors.Wrap(signererrors.Transient, "estimate fee rate", err)
	}

	if pkg.LastFees != nil && marketRate > pkg.LastFees.SatPerVB {
		return f.rebuildWithRBF(ctx, pkg, marketRate)
	}
	return nil
}

// rebuildWithRBF logs the prior and market fee rates and returns a
// Transient error. It does not construct or broadcast a replacement
// package.
func (f *Finalizer) rebuildWithRBF(ctx context.Context, prior *model.Package, marketRate float64) error {
	logger.Infow("rebuilding package with rbf", "prior_rate", prior.LastFees.SatPerVB, "market_rate", marketRate)
	return signererrors.New(signererrors.Transient, "rbf rebuild requested, awaiting coordinator loop to reconstruct transactions")
}
