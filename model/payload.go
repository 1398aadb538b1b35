package model

// Request payloads (player → admin).

type LoginRequest struct {
	AccountNumber   string    `json:"account_number"`
	AccountPassword string    `json:"account_password"`
	LoginMode       LoginMode `json:"login_mode,omitempty"`
}

type PurchaseRequest struct {
	CharacterID string         `json:"character_id"`
	Cart        map[string]int `json:"cart"`
}

// GoldRequest carries a deposit or withdraw amount. Amount stays a float so
// fractional input can be rejected instead of silently truncated.
type GoldRequest struct {
	CharacterID string  `json:"character_id"`
	Amount      float64 `json:"amount"`
}

type InventoryRequest struct {
	CharacterID string `json:"character_id"`
}

// Decision payloads (admin → player).

type LoginResult struct {
	CharacterID     string    `json:"character_id,omitempty"`
	LoginMode       LoginMode `json:"login_mode,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	LockSecondsLeft int       `json:"lock_seconds_left,omitempty"`
	AttemptsLeft    int       `json:"attempts_left,omitempty"`
}

type PurchaseResult struct {
	PurchaseID    string                  `json:"purchase_id"`
	CharacterID   string                  `json:"character_id"`
	ApprovedItems map[string]ApprovedLine `json:"approved_items,omitempty"`
	TotalPrice    int64                   `json:"total_price"`
	Gold          int64                   `json:"gold"`
	Reason        string                  `json:"reason,omitempty"`
}

type GoldResult struct {
	CharacterID string `json:"character_id"`
	Amount      int64  `json:"amount"`
	Gold        int64  `json:"gold"`
	Reason      string `json:"reason,omitempty"`
}

type InventoryResult struct {
	CharacterID string         `json:"character_id"`
	Items       map[string]int `json:"items,omitempty"`
	Gold        int64          `json:"gold"`
	Reason      string         `json:"reason,omitempty"`
}
