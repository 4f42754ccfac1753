// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_agent

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/rapidaai/orchestrator/pkg/commons"
)

// Agent is a named voice persona: the system prompt, the greeting and
// farewell phrases, the provider selections and the end-call vocabulary.
// A Call captures an immutable snapshot of its Agent at start, so edits to
// an Agent never change the behavior of a call already in flight.
type Agent struct {
	Id       uint64 `json:"id" gorm:"type:bigint;primaryKey;<-:create"`
	UserId   uint64 `json:"userId" gorm:"column:user_id;type:bigint;not null;index"`
	Name     string `json:"name" gorm:"column:name;type:varchar(200);not null"`
	Persona  string `json:"persona" gorm:"column:persona;type:text;not null;default:''"`
	Greeting string `json:"greeting" gorm:"column:greeting;type:text;not null;default:''"`
	Farewell string `json:"farewell" gorm:"column:farewell;type:text;not null;default:''"`

	// EndCallPhrases is a comma separated list, matched case-insensitively
	// against final transcripts with trailing punctuation stripped.
	EndCallPhrases string `json:"endCallPhrases" gorm:"column:end_call_phrases;type:text;not null;default:''"`

	Language    string  `json:"language" gorm:"column:language;type:varchar(20);not null;default:'en'"`
	SttProvider string  `json:"sttProvider" gorm:"column:stt_provider;type:varchar(50);not null;default:'deepgram'"`
	SttModel    string  `json:"sttModel" gorm:"column:stt_model;type:varchar(100);not null;default:'nova-2'"`
	TtsProvider string  `json:"ttsProvider" gorm:"column:tts_provider;type:varchar(50);not null;default:'elevenlabs'"`
	TtsVoiceId  string  `json:"ttsVoiceId" gorm:"column:tts_voice_id;type:varchar(100);not null;default:''"`
	LlmModel    string  `json:"llmModel" gorm:"column:llm_model;type:varchar(100);not null;default:'gpt-4o-mini'"`
	Temperature float64 `json:"temperature" gorm:"column:temperature;type:numeric;not null;default:0.7"`

	MaxHistoryTokens int  `json:"maxHistoryTokens" gorm:"column:max_history_tokens;type:int;not null;default:2000"`
	KnowledgeEnabled bool `json:"knowledgeEnabled" gorm:"column:knowledge_enabled;not null;default:false"`

	CreatedDate time.Time `json:"createdDate" gorm:"type:timestamp;not null;default:NOW();<-:create"`
	UpdatedDate time.Time `json:"updatedDate" gorm:"type:timestamp;default:null"`
}

func (Agent) TableName() string {
	return "agents"
}

func (a *Agent) BeforeCreate(tx *gorm.DB) (err error) {
	if a.Id <= 0 {
		a.Id = commons.ID()
	}
	if a.CreatedDate.IsZero() {
		a.CreatedDate = time.Now()
	}
	return nil
}

// Phrases splits the stored end-call phrase list into normalized entries.
func (a *Agent) Phrases() []string {
	if a.EndCallPhrases == "" {
		return nil
	}
	parts := strings.Split(a.EndCallPhrases, ",")
	phrases := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			phrases = append(phrases, p)
		}
	}
	return phrases
}

// Snapshot serializes the agent for storage on the Call row. The session
// runs against the snapshot, never against the live row.
func (a *Agent) Snapshot() (string, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// FromSnapshot rebuilds an agent from a Call's stored configuration snapshot.
func FromSnapshot(raw string) (*Agent, error) {
	var a Agent
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, err
	}
	return &a, nil
}
