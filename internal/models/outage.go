package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"
)

// Outage is a single observed outage row from the remote schedule.
// All fields are free text as published by the source and may be empty.
type Outage struct {
	District  string `json:"district"`
	Place     string `json:"place"`
	Addresses string `json:"addresses"`
	DateFrom  string `json:"date_from"`
	DateTo    string `json:"date_to"`
	Energy    string `json:"energy"`
}

// ContentHash returns a stable digest over every field of the record,
// used to deduplicate the append-only audit table.
func (o Outage) ContentHash() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s", o.District, o.Place, o.Addresses, o.DateFrom, o.DateTo, o.Energy)
	return fmt.Sprintf("%016x", h.Sum64())
}

// OutageList is a custom type for storing outage slices as JSON columns
type OutageList []Outage

func (l OutageList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *OutageList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported type %T for OutageList", value)
	}
}

// OutageAudit is an append-only audit row for every outage the watcher has
// ever observed, deduplicated by content hash.
type OutageAudit struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	District    string    `gorm:"index" json:"district"`
	Place       string    `gorm:"index" json:"place"`
	Addresses   string    `gorm:"type:text" json:"addresses"`
	DateFrom    string    `json:"date_from"`
	DateTo      string    `json:"date_to"`
	Energy      string    `json:"energy"`
	ReportFile  string    `json:"report_file"`
	ContentHash string    `gorm:"uniqueIndex;not null" json:"content_hash"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName keeps the historical table name
func (OutageAudit) TableName() string { return "power_outages" }

// Record converts an audit row back to its wire form.
func (a *OutageAudit) Record() Outage {
	return Outage{
		District:  a.District,
		Place:     a.Place,
		Addresses: a.Addresses,
		DateFrom:  a.DateFrom,
		DateTo:    a.DateTo,
		Energy:    a.Energy,
	}
}
