package usecase

import (
	"context"
	"errors"

	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/ports"
)

// MultiNotifier fans the accepted batch out to every channel.
// A failing channel does not stop the others; errors are joined.
type MultiNotifier []ports.Notifier

var _ ports.Notifier = MultiNotifier(nil)

// Notify calls each notifier in order.
func (m MultiNotifier) Notify(ctx context.Context, items []domain.Item) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, items); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
