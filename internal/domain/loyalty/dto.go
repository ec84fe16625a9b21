// internal/domain/loyalty/dto.go
package loyalty

// RedeemedVoucher pairs a redemption with its catalog entry.
type RedeemedVoucher struct {
	Voucher    Voucher           `json:"voucher"`
	Redemption VoucherRedemption `json:"redemption"`
}

type VoucherListResponse struct {
	Vouchers []Voucher `json:"vouchers"`
	Count    int       `json:"count"`
}

type RedeemResponse struct {
	Redemption    VoucherRedemption `json:"redemption"`
	LoyaltyPoints int64             `json:"loyaltyPoints"`
	LoyaltyTier   string            `json:"loyaltyTier"`
}
