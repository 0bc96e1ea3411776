package models

import (
	"time"
)

// Chain holds the projected state of an event chain. Its events live in ChainEvent.
type Chain struct {
	ID         string    `json:"id" gorm:"primaryKey;type:text"`
	LatestHash string    `json:"latestHash" gorm:"type:text;not null"`
	Length     int       `json:"length" gorm:"type:integer;not null;default:0"`
	Projection string    `json:"projection" gorm:"type:text;not null"`
	CDate      time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
	MDate      time.Time `json:"mdate" gorm:"autoUpdateTime"`
}

type ChainEvent struct {
	ChainID  string    `json:"chainID" gorm:"primaryKey;type:text"`
	Chain    Chain     `json:"-" gorm:"constraint:OnDelete:CASCADE;"`
	Position int       `json:"position" gorm:"primaryKey;type:integer"`
	Hash     string    `json:"hash" gorm:"type:text;index"`
	SignKey  string    `json:"signkey" gorm:"type:text"`
	Document string    `json:"document" gorm:"type:text;not null"`
	CDate    time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}

// ChainSignKey indexes the sign keys of the identities of a chain.
type ChainSignKey struct {
	ChainID string `json:"chainID" gorm:"primaryKey;type:text"`
	Chain   Chain  `json:"-" gorm:"constraint:OnDelete:CASCADE;"`
	SignKey string `json:"signkey" gorm:"primaryKey;type:text;index"`
}
