package model

import (
	"github.com/guildhall-dev/guildhall/internal/keys"
	"github.com/guildhall-dev/guildhall/internal/storage"
)

// Subscription tiers, lowest to highest.
const (
	TierFree        = "FREE"
	TierInitiate    = "INITIATE"
	TierJourneyman  = "JOURNEYMAN"
	TierSage        = "SAGE"
	TierGuildmaster = "GUILDMASTER"
)

// Subscription statuses.
const (
	SubStatusNone      = "none"
	SubStatusPending   = "pending"
	SubStatusActive    = "active"
	SubStatusCancelled = "cancelled"
	SubStatusPastDue   = "past_due"
)

// Subscription is one row per user. ProcessedEvents makes the webhook
// handler idempotent; Balance is maintained by conditional updates so
// it can never go negative.
type Subscription struct {
	UserID          string   `json:"userId"`
	Tier            string   `json:"tier"`
	Status          string   `json:"status"`
	GatewayCustomer string   `json:"gatewayCustomer,omitempty"`
	GatewaySubID    string   `json:"gatewaySubId,omitempty"`
	FounderPass     bool     `json:"founderPass,omitempty"`
	Balance         int64    `json:"balance"`
	ProcessedEvents []string `json:"processedEvents,omitempty"`
	CreatedAt       int64    `json:"createdAt"`
	UpdatedAt       int64    `json:"updatedAt"`
}

func (s Subscription) Item() storage.Item {
	return storage.Item{
		storage.AttrPK:     keys.User(s.UserID),
		storage.AttrSK:     keys.SKSubscription,
		storage.AttrGSI1PK: keys.SubStatus(s.Status),
		storage.AttrGSI1SK: keys.User(s.UserID),
		storage.AttrType:   TypeSubscription,
		"userId":           s.UserID,
		"tier":             s.Tier,
		"status":           s.Status,
		"gatewayCustomer":  s.GatewayCustomer,
		"gatewaySubId":     s.GatewaySubID,
		"founderPass":      s.FounderPass,
		"balance":          s.Balance,
		"processedEvents":  s.ProcessedEvents,
		"createdAt":        s.CreatedAt,
		"updatedAt":        s.UpdatedAt,
	}
}

func SubscriptionFromItem(item storage.Item) Subscription {
	return Subscription{
		UserID:          str(item, "userId"),
		Tier:            str(item, "tier"),
		Status:          str(item, "status"),
		GatewayCustomer: str(item, "gatewayCustomer"),
		GatewaySubID:    str(item, "gatewaySubId"),
		FounderPass:     boolean(item, "founderPass"),
		Balance:         num(item, "balance"),
		ProcessedEvents: strs(item, "processedEvents"),
		CreatedAt:       num(item, "createdAt"),
		UpdatedAt:       num(item, "updatedAt"),
	}
}

// CreditEntry is one append-only ledger row; balance is the sum of
// deltas.
type CreditEntry struct {
	ID            string `json:"id"`
	UserID        string `json:"userId"`
	Delta         int64  `json:"delta"`
	Reason        string `json:"reason"`
	SourceEventID string `json:"sourceEventId,omitempty"`
	TS            int64  `json:"ts"`
}

func (e CreditEntry) Item() storage.Item {
	return storage.Item{
		storage.AttrPK:   keys.User(e.UserID),
		storage.AttrSK:   keys.Credit(e.TS, e.ID),
		storage.AttrType: TypeCreditEntry,
		"id":             e.ID,
		"userId":         e.UserID,
		"delta":          e.Delta,
		"reason":         e.Reason,
		"sourceEventId":  e.SourceEventID,
		"ts":             e.TS,
	}
}

func CreditEntryFromItem(item storage.Item) CreditEntry {
	return CreditEntry{
		ID:            str(item, "id"),
		UserID:        str(item, "userId"),
		Delta:         num(item, "delta"),
		Reason:        str(item, "reason"),
		SourceEventID: str(item, "sourceEventId"),
		TS:            num(item, "ts"),
	}
}
