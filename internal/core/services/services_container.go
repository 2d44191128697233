package services

import (
	"context"

	portsrepo "github.com/LaazAlae/expenseTracker-sub000/internal/core/ports/repositories"
	portssvc "github.com/LaazAlae/expenseTracker-sub000/internal/core/ports/services"
	"github.com/LaazAlae/expenseTracker-sub000/pkg/config"
)

// Container holds instances of all the application services. It is the entry
// point for accessing service functionality from the handlers and the sync
// server.
type Container struct {
	Budget portssvc.BudgetSvcFacade
	User   portssvc.UserSvcFacade
	Token  portssvc.TokenSvcFacade
}

// NewContainer loads the ledger document from the store and wires the
// services around the shared in-memory authority.
func NewContainer(ctx context.Context, cfg *config.Config, store portsrepo.LedgerStore) (*Container, error) {
	authority, err := newDocumentAuthority(ctx, store)
	if err != nil {
		return nil, err
	}

	container := &Container{}
	container.Budget = NewBudgetService(authority)
	container.User = NewUserService(authority)
	container.Token = NewTokenService(cfg, container.User)
	return container, nil
}
