// internal/domain/topup/repository.go
package topup

import "context"

// CallbackLog archives raw gateway notifications before they are processed.
type CallbackLog interface {
	Append(ctx context.Context, rec *CallbackRecord) error
}
