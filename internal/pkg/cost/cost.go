// Package cost estimates the spend of a remote text classification call.
package cost

import "strconv"

// Pricing is a two-tier linear price table. Rates are USD per million tokens;
// a direction is billed at the low rate while its token count is at or below
// Breakpoint.
type Pricing struct {
	Breakpoint   int
	InputLow     float64
	InputHigh    float64
	OutputLow    float64
	OutputHigh   float64
	ExchangeRate float64 // PKR per USD
	Precision    int     // decimal places kept on the USD amount
}

// DefaultPricing returns the gemini-1.5-flash price table.
func DefaultPricing() Pricing {
	return Pricing{
		Breakpoint:   128000,
		InputLow:     0.075,
		InputHigh:    0.15,
		OutputLow:    0.30,
		OutputHigh:   0.60,
		ExchangeRate: 280.0,
		Precision:    8,
	}
}

// Breakdown is the cost of one call.
type Breakdown struct {
	InputTokens  int
	OutputTokens int
	USD          float64
	PKR          float64
}

// Estimate prices a call with DefaultPricing.
func Estimate(inputTokens, outputTokens int) Breakdown {
	return DefaultPricing().Estimate(inputTokens, outputTokens)
}

// Estimate prices a call. PKR is derived from the rounded USD amount.
func (p Pricing) Estimate(inputTokens, outputTokens int) Breakdown {
	inputTokens = max(inputTokens, 0)
	outputTokens = max(outputTokens, 0)

	usd := float64(inputTokens)/1e6*p.InputRate(inputTokens) +
		float64(outputTokens)/1e6*p.OutputRate(outputTokens)
	usd = round(usd, p.Precision)

	return Breakdown{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		USD:          usd,
		PKR:          usd * p.ExchangeRate,
	}
}

func (p Pricing) InputRate(tokens int) float64 {
	if tokens <= p.Breakpoint {
		return p.InputLow
	}
	return p.InputHigh
}

func (p Pricing) OutputRate(tokens int) float64 {
	if tokens <= p.Breakpoint {
		return p.OutputLow
	}
	return p.OutputHigh
}

// round rounds the exact binary value of v to places decimals, ties to even.
func round(v float64, places int) float64 {
	r, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', places, 64), 64)
	return r
}
