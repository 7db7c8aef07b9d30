package service

import (
	"fmt"

	"creditsystem/internal/config"
	"creditsystem/internal/infrastructure/cache"
	"creditsystem/internal/repository"
	"creditsystem/internal/wealth"

	"gorm.io/gorm"
)

// Services bundles every service over one database handle.
type Services struct {
	Accounts    *AccountService
	Ledger      *LedgerService
	Transfers   *TransferService
	Marketplace *MarketplaceService
	Trades      *TradeService
	Loans       *LoanService
	Inventory   *repository.ItemRepository
	Tiers       *wealth.Calculator
}

func NewServices(db *gorm.DB, cfg *config.Config, replay *cache.ReplayCache) (*Services, error) {
	tiers, err := wealth.NewCalculator(cfg.Wealth.Tiers)
	if err != nil {
		return nil, fmt.Errorf("wealth tiers: %w", err)
	}
	inventory := repository.NewItemRepository(db)
	market := NewMarketplaceService(db, cfg, inventory, tiers)

	return &Services{
		Accounts:    NewAccountService(db, cfg, tiers),
		Ledger:      NewLedgerService(db, cfg, replay),
		Transfers:   NewTransferService(db, cfg),
		Marketplace: market,
		Trades:      NewTradeService(db, cfg, inventory, market),
		Loans:       NewLoanService(db, cfg),
		Inventory:   inventory,
		Tiers:       tiers,
	}, nil
}
