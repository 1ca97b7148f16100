package history

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/baechuer/real-time-ressys/services/history-service/internal/domain"
)

// entry is the JSON member stored in the fast tier. Older members carry only the
// product fields; hid and uid are optional on decode.
type entry struct {
	HistoryID int64  `json:"hid,omitempty"`
	UserID    string `json:"uid,omitempty"`
	domain.ProductSnapshot
}

func encodeEntry(ev domain.ViewEvent) (string, error) {
	b, err := json.Marshal(entry{
		HistoryID:       ev.HistoryID,
		UserID:          ev.UserID,
		ProductSnapshot: ev.Product,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeEntry turns a scored member into a record. HistoryID is zero when the member
// predates embedded ids; callers decide how to fill it.
func decodeEntry(fingerprint string, m ScoredMember) (domain.HistoryRecord, error) {
	var e entry
	if err := json.Unmarshal([]byte(m.Member), &e); err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("%w: %v", domain.ErrMalformedEntry, err)
	}
	if strings.TrimSpace(e.ID) == "" {
		return domain.HistoryRecord{}, fmt.Errorf("%w: missing product id", domain.ErrMalformedEntry)
	}
	if math.IsNaN(m.Score) || m.Score <= 0 {
		return domain.HistoryRecord{}, fmt.Errorf("%w: bad score %v", domain.ErrMalformedEntry, m.Score)
	}

	snap := e.ProductSnapshot
	return domain.HistoryRecord{
		HistoryID:     e.HistoryID,
		FingerprintID: fingerprint,
		UserID:        e.UserID,
		ProductID:     e.ID,
		BrowseTime:    time.UnixMilli(int64(m.Score)).UTC(),
		Product:       &snap,
	}, nil
}
