package x402

import (
	"math/big"
	"sort"
)

// RequirementChooser picks one requirement from the options a wallet can pay.
// The options passed in are already filtered to the wallet's network family and
// are never empty.
type RequirementChooser interface {
	Choose(options []PaymentRequirement) (*PaymentRequirement, error)
}

// ChooserFunc adapts an ordinary function to the RequirementChooser interface.
type ChooserFunc func(options []PaymentRequirement) (*PaymentRequirement, error)

// Choose implements RequirementChooser.
func (f ChooserFunc) Choose(options []PaymentRequirement) (*PaymentRequirement, error) {
	return f(options)
}

// FirstCompatible chooses the first option in server order.
type FirstCompatible struct{}

// Choose implements RequirementChooser.
func (FirstCompatible) Choose(options []PaymentRequirement) (*PaymentRequirement, error) {
	if len(options) == 0 {
		return nil, NewPaymentError(ErrCodeNoCompatibleOption, "no compatible payment options", ErrNoCompatibleOption)
	}
	chosen := options[0]
	return &chosen, nil
}

// LowestAmount chooses the cheapest option, keeping server order for ties.
// When Max is set, options above it are never chosen.
type LowestAmount struct {
	Max *big.Int
}

// Choose implements RequirementChooser.
func (c LowestAmount) Choose(options []PaymentRequirement) (*PaymentRequirement, error) {
	var candidates []amountCandidate
	for i, opt := range options {
		amount, ok := new(big.Int).SetString(opt.MaxAmountRequired, 10)
		if !ok || amount.Sign() < 0 {
			continue
		}
		if c.Max != nil && amount.Cmp(c.Max) > 0 {
			continue
		}
		candidates = append(candidates, amountCandidate{index: i, amount: amount})
	}

	if len(candidates) == 0 {
		err := NewPaymentError(ErrCodeNoCompatibleOption, "no payment option within spending limit", ErrNoCompatibleOption)
		if c.Max != nil {
			err = err.WithDetails("max", c.Max.String())
		}
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].amount.Cmp(candidates[j].amount) < 0
	})

	chosen := options[candidates[0].index]
	return &chosen, nil
}

type amountCandidate struct {
	index  int
	amount *big.Int
}

// FilterByFamily returns the options with the exact scheme on a registered
// network of the given family, in server order.
func FilterByFamily(options []PaymentRequirement, family NetworkFamily) []PaymentRequirement {
	var out []PaymentRequirement
	for _, opt := range options {
		if opt.Scheme != SchemeExact {
			continue
		}
		if FamilyOf(opt.Network) != family {
			continue
		}
		out = append(out, opt)
	}
	return out
}
