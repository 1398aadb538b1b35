package arbiter

import (
	"context"

	"github.com/kasuganosora/escaperoom/server/model"
)

// Verdict is the automatic evaluation of a pending request, shown to the
// admin before deciding.
type Verdict struct {
	MessageID   string            `json:"message_id"`
	Type        model.MessageType `json:"message_type"`
	PlayerID    string            `json:"player_id"`
	CharacterID string            `json:"character_id,omitempty"`
	// Orphan requests are dropped when resolved.
	Orphan      bool              `json:"orphan"`
	Approved    bool              `json:"approved"`
	Reason      string            `json:"reason,omitempty"`

	ApprovedItems map[string]model.ApprovedLine `json:"approved_items,omitempty"`
	Dropped       []string                      `json:"dropped,omitempty"`
	TotalPrice    int64                         `json:"total_price,omitempty"`
	GoldDelta     int64                         `json:"gold_delta,omitempty"`
	Gold          int64                         `json:"gold"`
	Items         map[string]int                `json:"items,omitempty"`
}

// Review evaluates a pending request without changing anything.
func (e *Engine) Review(ctx context.Context, gameID, messageID string) (*Verdict, error) {
	msg, err := e.mb.Get(ctx, gameID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Direction != model.DirectionToAdmin || !msg.MessageType.IsAttempt() {
		return nil, ErrNotAttempt
	}
	if msg.Processed {
		return nil, ErrAlreadyProcessed
	}
	p, err := e.evaluate(ctx, e.db, msg, false)
	if err != nil {
		return nil, err
	}

	v := &Verdict{
		MessageID:   msg.ID,
		Type:        msg.MessageType,
		PlayerID:    msg.PlayerID,
		CharacterID: requestCharacterID(p.req),
		Orphan:      p.orphan,
	}
	if p.character != nil {
		v.Gold = p.character.Gold
		if v.CharacterID == "" {
			v.CharacterID = p.character.ID
		}
	}
	switch {
	case p.orphan:
	case p.reason != "":
		v.Reason = p.reason
	case p.login != nil:
		v.Approved = p.login.Approved
		v.Reason = p.login.Reason
	case p.purchase != nil:
		v.Approved = p.purchase.Approved
		v.Reason = p.purchase.Reason
		v.ApprovedItems = p.purchase.ApprovedItems
		v.Dropped = p.purchase.Dropped
		v.TotalPrice = p.purchase.TotalPrice
	case p.gold != nil:
		v.Approved = p.gold.Approved
		v.Reason = p.gold.Reason
		v.GoldDelta = p.gold.Delta
	default:
		v.Approved = true
		v.Items = p.owned
	}
	return v, nil
}
