package loyalty

import (
	"encoding/json"
	"fmt"
	"os"

	"healthwallet-service/internal/domain/loyalty"
)

// LoadCatalog reads a JSON array of vouchers. Codes and discounts are
// validated later by SeedCatalog.
func LoadCatalog(path string) ([]loyalty.Voucher, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read voucher catalog %s: %w", path, err)
	}
	var vouchers []loyalty.Voucher
	if err := json.Unmarshal(raw, &vouchers); err != nil {
		return nil, fmt.Errorf("failed to parse voucher catalog %s: %w", path, err)
	}
	for i := range vouchers {
		if vouchers[i].ApplicableServices == nil {
			vouchers[i].ApplicableServices = []string{}
		}
	}
	return vouchers, nil
}

// Catalog returns the vouchers to seed: the file at path when set, the
// built-in catalog otherwise.
func Catalog(path string) ([]loyalty.Voucher, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	return LoadCatalog(path)
}
