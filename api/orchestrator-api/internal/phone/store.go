// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_phone

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/rapidaai/orchestrator/pkg/commons"
	"github.com/rapidaai/orchestrator/pkg/connectors"
)

// Store provides access to provisioned phone numbers and their decrypted
// provider credentials.
type Store interface {
	// GetByNumber resolves an active phone row by E.164 number.
	GetByNumber(ctx context.Context, number string) (*Phone, error)

	// Save encrypts the given credentials and stores the phone row.
	Save(ctx context.Context, phone *Phone, creds Credentials) error

	// Credentials decrypts the stored provider credentials.
	Credentials(phone *Phone) (Credentials, error)
}

type postgresStore struct {
	postgres connectors.PostgresConnector
	box      *commons.SecretBox
	logger   commons.Logger
}

// NewStore creates a phone store; box encrypts credentials at rest.
func NewStore(postgres connectors.PostgresConnector, box *commons.SecretBox, logger commons.Logger) Store {
	return &postgresStore{
		postgres: postgres,
		box:      box,
		logger:   logger,
	}
}

func (s *postgresStore) GetByNumber(ctx context.Context, number string) (*Phone, error) {
	db := s.postgres.DB(ctx)
	var phone Phone
	if err := db.Where("number = ? AND active = ?", number, true).First(&phone).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, commons.NewErrorf(commons.KindNotFound, "phone %s not found", number)
		}
		return nil, commons.WrapError(commons.KindInternal, "failed to load phone", err)
	}
	return &phone, nil
}

func (s *postgresStore) Save(ctx context.Context, phone *Phone, creds Credentials) error {
	encSid, err := s.box.Encrypt(creds.AccountSid)
	if err != nil {
		return commons.WrapError(commons.KindInternal, "failed to encrypt account sid", err)
	}
	encToken, err := s.box.Encrypt(creds.AuthToken)
	if err != nil {
		return commons.WrapError(commons.KindInternal, "failed to encrypt auth token", err)
	}
	phone.EncryptedAccountSid = encSid
	phone.EncryptedAuthToken = encToken

	db := s.postgres.DB(ctx)
	if err := db.Save(phone).Error; err != nil {
		return commons.WrapError(commons.KindInternal, "failed to save phone", err)
	}
	s.logger.Infof("saved phone: number=%s, provider=%s", phone.Number, phone.Provider)
	return nil
}

func (s *postgresStore) Credentials(phone *Phone) (Credentials, error) {
	sid, err := s.box.Decrypt(phone.EncryptedAccountSid)
	if err != nil {
		return Credentials{}, commons.WrapError(commons.KindInternal, "failed to decrypt account sid", err)
	}
	token, err := s.box.Decrypt(phone.EncryptedAuthToken)
	if err != nil {
		return Credentials{}, commons.WrapError(commons.KindInternal, "failed to decrypt auth token", err)
	}
	return Credentials{AccountSid: sid, AuthToken: token}, nil
}
