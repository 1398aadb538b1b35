package rules

import (
	"sort"

	"github.com/kasuganosora/escaperoom/server/model"
)

// Rejection reasons shown to players.
const (
	ReasonNotAssumed        = "Player did not assume this character"
	ReasonInsufficientGold  = "Insufficient Gold"
	ReasonPurchaseDeclined  = "Purchase declined"
	ReasonCharacterNotFound = "Character not found"
	ReasonOutOfStock        = "Items are no longer in stock"
)

// Buyer is the state of the purchasing character at evaluation time.
type Buyer struct {
	Gold  int64
	Owned map[string]int
	// SecretAccess is true when the character may buy secret items in the
	// player's current login mode.
	SecretAccess bool
}

// PurchaseEvaluation is the automatic verdict for a cart.
type PurchaseEvaluation struct {
	ApprovedItems map[string]model.ApprovedLine
	// Dropped lists cart item ids that were excluded, sorted.
	Dropped    []string
	TotalPrice int64
	Approved   bool
	Reason     string
}

// EvaluatePurchase resolves every cart entry against the catalog. Entries for
// missing, sold-out, gated or (without secret access) secret items are
// dropped; over-requests are clamped to stock. The whole cart is rejected when
// the buyer cannot afford the total. An empty approved set is approved with a
// zero total.
func EvaluatePurchase(buyer Buyer, catalog map[string]*model.Item, cart map[string]int) PurchaseEvaluation {
	eval := PurchaseEvaluation{ApprovedItems: make(map[string]model.ApprovedLine)}

	for itemID, requested := range cart {
		item, ok := catalog[itemID]
		if !ok || requested <= 0 || !IsAvailable(item) ||
			!CheckPrerequisites(item, buyer.Owned) ||
			(item.IsSecret && !buyer.SecretAccess) {
			eval.Dropped = append(eval.Dropped, itemID)
			continue
		}
		qty := requested
		if qty > item.Quantity {
			qty = item.Quantity
		}
		eval.ApprovedItems[itemID] = model.ApprovedLine{Quantity: qty, Price: item.Price}
		eval.TotalPrice += int64(qty) * item.Price
	}
	sort.Strings(eval.Dropped)

	if buyer.Gold < eval.TotalPrice {
		eval.Reason = ReasonInsufficientGold
		return eval
	}
	eval.Approved = true
	return eval
}

// FinalPurchaseVerdict combines the admin's manual decision with the automatic
// verdict. Both must approve. An admin approval over a failed automatic verdict
// yields the automatic reason.
func FinalPurchaseVerdict(adminApproved bool, adminReason string, eval PurchaseEvaluation) (bool, string) {
	if !eval.Approved {
		return false, eval.Reason
	}
	if !adminApproved {
		if adminReason == "" {
			adminReason = ReasonPurchaseDeclined
		}
		return false, adminReason
	}
	return true, ""
}
