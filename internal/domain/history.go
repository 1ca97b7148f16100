package domain

import (
	"math"
	"strings"
	"time"
)

// ProductSnapshot is the product view captured at browse time. Fields are kept as
// strings so the stored payload is independent of the catalog's numeric types.
type ProductSnapshot struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       string `json:"price"`
	ImageURL    string `json:"imageUrl"`
	Description string `json:"description"`
}

// ViewEvent is a single product view as written to the fast tier.
type ViewEvent struct {
	HistoryID   int64
	Fingerprint string
	UserID      string
	Product     ProductSnapshot
	ViewedAt    time.Time
}

// HistoryRecord is one row of browse history, from either tier.
// Product is set only for records read from the fast tier.
type HistoryRecord struct {
	HistoryID     int64            `json:"history_id,string"`
	FingerprintID string           `json:"fingerprint_id"`
	UserID        string           `json:"user_id,omitempty"`
	ProductID     string           `json:"product_id"`
	BrowseTime    time.Time        `json:"browse_time"`
	Product       *ProductSnapshot `json:"product,omitempty"`
}

type FingerprintIdentity struct {
	Fingerprint string
	UserID      string
	LinkedAt    time.Time
}

type Page struct {
	Number int
	Size   int
}

// Offset is the zero-based index of the first record of the page.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// MaxWindow bounds Number*Size so offsets and range stops never overflow.
const MaxWindow = math.MaxInt32

// Normalize clamps the page into [1,..] and the size into [1,max], using def for unset sizes.
// Page numbers past MaxWindow/Size are pulled back to the last addressable page, which is
// still beyond any stored history and reads as empty.
func (p Page) Normalize(def, max int) Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = def
	}
	if max > 0 && p.Size > max {
		p.Size = max
	}
	if p.Size > MaxWindow {
		p.Size = MaxWindow
	}
	if p.Number > MaxWindow/p.Size {
		p.Number = MaxWindow / p.Size
	}
	return p
}

type PageResult struct {
	Records []HistoryRecord `json:"records"`
	Total   int64           `json:"total"`
	Page    int             `json:"page"`
	Size    int             `json:"size"`
}

// EmptyPage is the result for a subject with no history anywhere.
func EmptyPage(p Page) PageResult {
	return PageResult{Records: []HistoryRecord{}, Page: p.Number, Size: p.Size}
}

// ValidFingerprint reports whether fp is usable as a subject key.
func ValidFingerprint(fp string) bool {
	fp = strings.TrimSpace(fp)
	if fp == "" || len(fp) > 128 {
		return false
	}
	// ':' and '*' would break key layout and pattern scans
	return !strings.ContainsAny(fp, ":* \t\r\n")
}
