// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_phone

import (
	"time"

	"gorm.io/gorm"

	"github.com/rapidaai/orchestrator/pkg/commons"
)

// Phone is a provisioned telephony number with the provider credentials
// needed to place calls from it. Credentials are AES-256-GCM encrypted at
// rest; the store decrypts on read.
type Phone struct {
	Id     uint64 `json:"id" gorm:"type:bigint;primaryKey;<-:create"`
	UserId uint64 `json:"userId" gorm:"column:user_id;type:bigint;not null;index"`

	Number   string `json:"number" gorm:"column:number;type:varchar(50);not null;uniqueIndex"`
	Provider string `json:"provider" gorm:"column:provider;type:varchar(50);not null;default:'twilio'"`

	// AgentID routes inbound calls on this number; zero means the number
	// only places outbound calls.
	AgentID uint64 `json:"agentId" gorm:"column:agent_id;type:bigint;not null;default:0"`

	// Encrypted envelopes, iv_hex:ct_hex:tag_hex.
	EncryptedAccountSid string `json:"-" gorm:"column:encrypted_account_sid;type:text;not null;default:''"`
	EncryptedAuthToken  string `json:"-" gorm:"column:encrypted_auth_token;type:text;not null;default:''"`

	Active bool `json:"active" gorm:"column:active;not null;default:true"`

	CreatedDate time.Time `json:"createdDate" gorm:"type:timestamp;not null;default:NOW();<-:create"`
	UpdatedDate time.Time `json:"updatedDate" gorm:"type:timestamp;default:null"`
}

func (Phone) TableName() string {
	return "phones"
}

func (p *Phone) BeforeCreate(tx *gorm.DB) (err error) {
	if p.Id <= 0 {
		p.Id = commons.ID()
	}
	if p.CreatedDate.IsZero() {
		p.CreatedDate = time.Now()
	}
	return nil
}

// Credentials is the decrypted provider credential pair.
type Credentials struct {
	AccountSid string
	AuthToken  string
}
