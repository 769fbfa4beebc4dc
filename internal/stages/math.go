package stages

import "math"

// maxPayoffMonths caps amortization results when the payment barely
// covers (or fails to cover) accruing interest.
const maxPayoffMonths = 600

// Amortize returns the number of months needed to pay off a principal at
// the given monthly rate with a fixed payment, using the standard
// amortization formula:
//
//	months = -ln(1 - principal*r/payment) / ln(1+r)
//
// A zero rate degenerates to principal/payment. When the payment does not
// exceed the monthly interest the debt never amortizes; the result is
// capped at maxPayoffMonths and ok is false.
func Amortize(principal, monthlyRate, payment float64) (months float64, ok bool) {
	if principal <= 0 {
		return 0, true
	}
	if payment <= 0 {
		return maxPayoffMonths, false
	}
	if monthlyRate <= 0 {
		return principal / payment, true
	}
	if payment <= principal*monthlyRate {
		return maxPayoffMonths, false
	}
	m := -math.Log(1-principal*monthlyRate/payment) / math.Log(1+monthlyRate)
	if m > maxPayoffMonths {
		return maxPayoffMonths, false
	}
	return m, true
}

// AnnuityPayment returns the fixed monthly payment that amortizes a
// principal over termMonths at the given monthly rate.
func AnnuityPayment(principal, monthlyRate float64, termMonths int) float64 {
	if termMonths <= 0 {
		return principal
	}
	if monthlyRate <= 0 {
		return principal / float64(termMonths)
	}
	return principal * monthlyRate / (1 - math.Pow(1+monthlyRate, -float64(termMonths)))
}

// round2 rounds to two decimals (øre precision).
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
