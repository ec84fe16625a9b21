// internal/domain/loyalty/entity.go
package loyalty

import (
	"time"

	"github.com/lib/pq"
)

// Tier is one row of the loyalty tier table. A nil MaxPoints means unbounded.
type Tier struct {
	Name      string   `json:"name"`
	MinPoints int64    `json:"minPoints"`
	MaxPoints *int64   `json:"maxPoints,omitempty"`
	Benefits  []string `json:"benefits"`
}

// Bound returns an inclusive upper limit for Tier.MaxPoints.
func Bound(limit int64) *int64 {
	return &limit
}

// Unbounded reports whether the tier has no upper limit.
func (t Tier) Unbounded() bool {
	return t.MaxPoints == nil
}

// Contains reports whether points fall inside the tier's range.
func (t Tier) Contains(points int64) bool {
	return points >= t.MinPoints && (t.Unbounded() || points <= *t.MaxPoints)
}

type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFixed      DiscountType = "FIXED"
)

type Voucher struct {
	ID                 int64          `json:"id" db:"id"`
	Code               string         `json:"code" db:"code"`
	Title              string         `json:"title" db:"title"`
	Description        string         `json:"description" db:"description"`
	DiscountType       DiscountType   `json:"discountType" db:"discount_type"`
	DiscountValue      int64          `json:"discountValue" db:"discount_value"`
	PointsRequired     int64          `json:"pointsRequired" db:"points_required"`
	ApplicableServices pq.StringArray `json:"applicableServices" db:"applicable_services"`
	Active             bool           `json:"active" db:"active"`
	ExpiresAt          *time.Time     `json:"expiresAt,omitempty" db:"expires_at"`
	CreatedAt          time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time      `json:"updatedAt" db:"updated_at"`
}

// Available reports whether the voucher can currently be redeemed.
func (v Voucher) Available(now time.Time) bool {
	if !v.Active {
		return false
	}
	return v.ExpiresAt == nil || now.Before(*v.ExpiresAt)
}

type VoucherRedemption struct {
	ID            int64      `json:"id" db:"id"`
	AccountID     int64      `json:"accountId" db:"account_id"`
	VoucherID     int64      `json:"voucherId" db:"voucher_id"`
	TransactionID string     `json:"transactionId" db:"transaction_id"`
	PointsSpent   int64      `json:"pointsSpent" db:"points_spent"`
	RedeemedAt    time.Time  `json:"redeemedAt" db:"redeemed_at"`
	UsedAt        *time.Time `json:"usedAt,omitempty" db:"used_at"`
}
