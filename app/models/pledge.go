package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mayday-pac/pledgeservice/internal/pkg/token"
)

// Model versions tag which code created a record so legacy rows can be special-cased.
//
//	2: sharded counter for the donation total
//	4: pledges carry a team
//	6: pledges carry a pledge type
//	7: pledges are only created after a successful charge
//	8: anonymity flag
//	9: pledges are summed into TeamTotal rows on creation
const (
	CurrentModelVersion    = 9
	TeamLedgerModelVersion = 9
)

const (
	PledgeTypeConditional = "CONDITIONAL"
	PledgeTypeDonation    = "DONATION"
)

// Pledge is a single donation or conditional pledge. Amount and team never change after creation.
type Pledge struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UUID             string     `gorm:"type:char(36);uniqueIndex" json:"uuid"`
	ModelVersion     int        `gorm:"index;not null" json:"model_version"`
	Email            string     `gorm:"type:varchar(200);index;not null" json:"email" validate:"required,email,max=200"`
	AmountCents      int64      `gorm:"not null" json:"amount_cents" validate:"gte=0"`
	Team             string     `gorm:"type:varchar(100);index" json:"team" validate:"max=100"`
	PledgeType       string     `gorm:"type:varchar(20);not null" json:"pledge_type" validate:"oneof=CONDITIONAL DONATION"`
	Anonymous        bool       `gorm:"not null" json:"anonymous"`
	Note             string     `gorm:"type:text" json:"note,omitempty"`
	StripeCustomerID string     `gorm:"type:varchar(100)" json:"-"`
	StripeChargeID   string     `gorm:"type:varchar(100)" json:"-"`
	PaypalPayerID    string     `gorm:"type:varchar(100)" json:"-"`
	PaypalTxnID      string     `gorm:"type:varchar(100)" json:"-"`
	BitpayInvoiceID  string     `gorm:"type:varchar(100)" json:"-"`
	URLNonce         string     `gorm:"type:varchar(64);not null" json:"-"`
	ThankYouSentAt   *time.Time `gorm:"type:timestamp;default:null" json:"thank_you_sent_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName specifies the table name for the Pledge model
func (Pledge) TableName() string {
	return "pledges"
}

// Validate checks the pledge fields before it is persisted
func (p *Pledge) Validate() error {
	return validator.New().Struct(p)
}

// IsLegacyForTeamLedger reports whether the pledge predates per-team ledger accounting.
func (p *Pledge) IsLegacyForTeamLedger() bool {
	return p.ModelVersion < TeamLedgerModelVersion
}

// NewPledge prepares a pledge at the current model version with fresh public identifiers.
func NewPledge(email string, amountCents int64, pledgeType, team string, anonymous bool) (*Pledge, error) {
	nonce, err := token.URLNonce()
	if err != nil {
		return nil, err
	}
	if pledgeType == "" {
		pledgeType = PledgeTypeConditional
	}
	return &Pledge{
		UUID:         uuid.New().String(),
		ModelVersion: CurrentModelVersion,
		Email:        email,
		AmountCents:  amountCents,
		Team:         team,
		PledgeType:   pledgeType,
		Anonymous:    anonymous,
		URLNonce:     nonce,
	}, nil
}
