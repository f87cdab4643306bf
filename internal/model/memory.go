// Package model defines the core memory data types.
package model

import "time"

// Speaker identifies who authored an utterance.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Valid reports whether s is a known speaker.
func (s Speaker) Valid() bool {
	return s == SpeakerUser || s == SpeakerAssistant
}

// Importance bounds.
const (
	MinImportance = 0
	MaxImportance = 5
)

// ClampImportance forces v into [MinImportance, MaxImportance].
func ClampImportance(v int) int {
	if v < MinImportance {
		return MinImportance
	}
	if v > MaxImportance {
		return MaxImportance
	}
	return v
}

// Classification is the utterance-level label set produced by the classifier.
// Every chunk of an utterance inherits the same classification.
type Classification struct {
	Importance int      `json:"importance"`
	Topic      string   `json:"topic"`
	Tags       []string `json:"tags,omitempty"`
}

// Clamped returns a copy with importance forced into range.
func (c Classification) Clamped() Classification {
	c.Importance = ClampImportance(c.Importance)
	return c
}

// FallbackClassification is used whenever the classifier cannot answer.
func FallbackClassification() Classification {
	return Classification{Importance: 0, Topic: "error", Tags: []string{"classification-error"}}
}

// ParentDocument is one full stored utterance.
type ParentDocument struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	Speaker          Speaker   `json:"speaker"`
	FullText         string    `json:"full_text"`
	Summary          string    `json:"summary"`
	SummaryEmbedding []float32 `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	ChunkCount       int       `json:"chunks,omitempty"`
}

// MemoryChunk is a sentence-window excerpt of a parent.
type MemoryChunk struct {
	ID         string    `json:"id"`
	ParentID   string    `json:"parent_id"`
	Content    string    `json:"content"`
	Speaker    Speaker   `json:"speaker"`
	Embedding  []float32 `json:"-"`
	Topic      string    `json:"topic"`
	Importance int       `json:"importance"`
	Tags       []string  `json:"tags,omitempty"`
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// ScoredChunk is a retrieval candidate annotated with its scoring terms.
type ScoredChunk struct {
	MemoryChunk
	SemanticDistance float64       `json:"semantic_distance"`
	KeywordRank      float64       `json:"keyword_rank"`
	TagAdjustment    float64       `json:"tag_adjustment"`
	RecencyTerm      float64       `json:"recency_term"`
	HybridScore      float64       `json:"hybrid_score"`
	Age              time.Duration `json:"age"`
}

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one entry of the in-memory conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
