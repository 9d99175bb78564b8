package sale

import "tokensale/native/common"

// Settlement is the payment split for a purchase. The buyer pays Gross; the
// split happens on the receiving side.
type Settlement struct {
	Amount        uint64
	Gross         uint64
	Fee           uint64
	SellerPayment uint64
}

// computeSettlement returns gross = amount*price, fee = floor(gross*bps/10000)
// and sellerPayment = gross-fee. Every step is checked.
func computeSettlement(amount, price uint64, feeBps uint32) (Settlement, error) {
	gross, err := common.CheckedMul(amount, price)
	if err != nil {
		return Settlement{}, ErrMathOverflow.wrap(err)
	}
	var fee uint64
	if feeBps > 0 {
		fee, err = common.MulDivFloor(gross, uint64(feeBps), MaxFeeBps)
		if err != nil {
			return Settlement{}, ErrMathOverflow.wrap(err)
		}
	}
	sellerPayment, err := common.CheckedSub(gross, fee)
	if err != nil {
		return Settlement{}, ErrMathOverflow.wrap(err)
	}
	return Settlement{Amount: amount, Gross: gross, Fee: fee, SellerPayment: sellerPayment}, nil
}
