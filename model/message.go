package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Direction tells which mailbox a message lives in.
type Direction string

const (
	DirectionToAdmin  Direction = "to_admin"
	DirectionToPlayer Direction = "to_player"
)

// MessageType tags the payload carried in Message.MessageDetails.
type MessageType string

const (
	MsgLoginAttempt     MessageType = "LOGIN_ATTEMPT"
	MsgLoginSuccess     MessageType = "LOGIN_SUCCESS"
	MsgLoginFailure     MessageType = "LOGIN_FAILURE"
	MsgPurchaseAttempt  MessageType = "PURCHASE_ATTEMPT"
	MsgPurchaseSuccess  MessageType = "PURCHASE_SUCCESS"
	MsgPurchaseFailure  MessageType = "PURCHASE_FAILURE"
	MsgDepositAttempt   MessageType = "DEPOSIT_ATTEMPT"
	MsgDepositSuccess   MessageType = "DEPOSIT_SUCCESS"
	MsgDepositFailure   MessageType = "DEPOSIT_FAILURE"
	MsgWithdrawAttempt  MessageType = "WITHDRAW_ATTEMPT"
	MsgWithdrawSuccess  MessageType = "WITHDRAW_SUCCESS"
	MsgWithdrawFailure  MessageType = "WITHDRAW_FAILURE"
	MsgInventoryAttempt MessageType = "REQUEST_INVENTORY_ATTEMPT"
	MsgInventorySuccess MessageType = "REQUEST_INVENTORY_SUCCESS"
	MsgInventoryFailure MessageType = "REQUEST_INVENTORY_FAILURE"
)

// outcomes maps each attempt type to its success and failure replies.
var outcomes = map[MessageType][2]MessageType{
	MsgLoginAttempt:     {MsgLoginSuccess, MsgLoginFailure},
	MsgPurchaseAttempt:  {MsgPurchaseSuccess, MsgPurchaseFailure},
	MsgDepositAttempt:   {MsgDepositSuccess, MsgDepositFailure},
	MsgWithdrawAttempt:  {MsgWithdrawSuccess, MsgWithdrawFailure},
	MsgInventoryAttempt: {MsgInventorySuccess, MsgInventoryFailure},
}

// IsAttempt reports whether t is a player-originated request.
func (t MessageType) IsAttempt() bool {
	_, ok := outcomes[t]
	return ok
}

// Success returns the reply type for an approved attempt.
func (t MessageType) Success() MessageType { return outcomes[t][0] }

// Failure returns the reply type for a rejected attempt.
func (t MessageType) Failure() MessageType { return outcomes[t][1] }

// Message is one entry of a game mailbox. Processed only ever moves false → true.
type Message struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	GameID         string         `gorm:"index:idx_mailbox,priority:1;size:36;not null" json:"game_id"`
	Direction      Direction      `gorm:"index:idx_mailbox,priority:2;size:16;not null" json:"direction"`
	PlayerID       string         `gorm:"index:idx_mailbox,priority:3;size:36;not null" json:"player_id"`
	Processed      bool           `gorm:"index:idx_mailbox,priority:4;default:false" json:"processed"`
	MessageType    MessageType    `gorm:"size:32;not null" json:"message_type"`
	MessageDetails datatypes.JSON `json:"message_details"`
	ActivityTime   time.Time      `gorm:"index:idx_msg_time;autoCreateTime:milli" json:"activity_time"`
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

// DecodeDetails unmarshals the payload into v.
func (m *Message) DecodeDetails(v interface{}) error {
	if len(m.MessageDetails) == 0 {
		return fmt.Errorf("message %s: empty details", m.ID)
	}
	if err := json.Unmarshal(m.MessageDetails, v); err != nil {
		return fmt.Errorf("message %s: decode %s: %w", m.ID, m.MessageType, err)
	}
	return nil
}

// EncodeDetails marshals v into a JSON column value.
func EncodeDetails(v interface{}) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
