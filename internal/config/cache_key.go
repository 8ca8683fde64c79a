package config

import (
	"fmt"

	"github.com/google/uuid"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// EvaluationDefinitionKey holds the JSON evaluation definition, answer key included.
func (r *CacheKeyStruct) EvaluationDefinitionKey(evaluationID uuid.UUID) string {
	return fmt.Sprintf("evaluation:%s:definition", evaluationID)
}

// SessionSnapshotKey holds the latest autosave of a candidate's session.
func (r *CacheKeyStruct) SessionSnapshotKey(evaluationID uuid.UUID, candidate string) string {
	return fmt.Sprintf("evaluation:%s:candidate:%s:snapshot", evaluationID, candidate)
}

// AttemptAckKey marks an attempt as accepted; set once per attempt id.
func (r *CacheKeyStruct) AttemptAckKey(attemptID uuid.UUID) string {
	return fmt.Sprintf("attempt:%s:ack", attemptID)
}

// CandidateResultKey caches the result summary shown after completion.
func (r *CacheKeyStruct) CandidateResultKey(evaluationID uuid.UUID, candidate string) string {
	return fmt.Sprintf("evaluation:%s:candidate:%s:result", evaluationID, candidate)
}

// RevokedInviteKey marks an access token id as revoked.
func (r *CacheKeyStruct) RevokedInviteKey(tokenID string) string {
	return fmt.Sprintf("invite:%s:revoked", tokenID)
}

// EvaluationMonitorChannel returns the Redis PubSub channel name for an evaluation monitor.
func (r *CacheKeyStruct) EvaluationMonitorChannel(evaluationID uuid.UUID) string {
	return fmt.Sprintf("evaluation:%s:monitor", evaluationID)
}

var CacheKey = NewCacheKeyStruct()
