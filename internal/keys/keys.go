// Package keys builds the ordered key space shared by every billing
// component. All keys are printable, colon-separated prefixes so that a
// single range scan covers one user's records:
//
//	user:<userID>                        account
//	tx:<userID>:<txID>                   transaction (per user, time ordered)
//	tx:index:<txID>                      global idempotency index
//	token:<userID>:<recordID>            usage record (per user, time ordered)
//	token:stats:day:<userID>:<dateKey>   daily rollup
//
// Because ":" is the key separator, user ids must never contain it, and the
// ids "index" and "stats" are reserved by the tx: and token: layouts. ValidUserID
// is the single gate; writers call it before any storage access.
// txID and recordID are ULIDs, so byte order equals creation order and time
// windows translate directly into key bounds.
package keys

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	accountPrefix  = "user:"
	txPrefix       = "tx:"
	txIndexPrefix  = "tx:index:"
	usagePrefix    = "token:"
	dayStatsPrefix = "token:stats:day:"
)

// DateKeyLayout is the calendar-day format used by daily rollups. Day
// boundaries are always UTC.
const DateKeyLayout = "2006-01-02"

// ValidUserID reports whether userID can be embedded in the key space. A ":"
// would let one user's keys fall inside another user's scan prefix
// (token:u1:evil:<id> sorts under token:u1:), so separator bytes are banned
// along with the layout's reserved words.
func ValidUserID(userID string) bool {
	if userID == "" || userID == "index" || userID == "stats" {
		return false
	}
	return !strings.Contains(userID, ":")
}

func Account(userID string) []byte {
	return []byte(accountPrefix + userID)
}

func Transaction(userID, txID string) []byte {
	return []byte(txPrefix + userID + ":" + txID)
}

func TransactionPrefix(userID string) []byte {
	return []byte(txPrefix + userID + ":")
}

func TransactionIndex(txID string) []byte {
	return []byte(txIndexPrefix + txID)
}

func UsageRecord(userID, recordID string) []byte {
	return []byte(usagePrefix + userID + ":" + recordID)
}

func UsageRecordPrefix(userID string) []byte {
	return []byte(usagePrefix + userID + ":")
}

func DayStats(userID, dateKey string) []byte {
	return []byte(dayStatsPrefix + userID + ":" + dateKey)
}

// DateKey derives the UTC calendar day for t.
func DateKey(t time.Time) string {
	return t.UTC().Format(DateKeyLayout)
}

// MinIDAt returns the smallest ULID for the given instant. Used to turn a
// time bound into a key bound: every id generated at or after t sorts >= it.
func MinIDAt(t time.Time) string {
	var id ulid.ULID
	_ = id.SetTime(ulid.Timestamp(t))
	return id.String()
}

// IDSource hands out monotonic, time-sortable ULIDs. Safe for concurrent
// use; constructed per process rather than held as package state so tests
// get isolated instances.
type IDSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewIDSource() *IDSource {
	return &IDSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// NewID returns a fresh ULID stamped with t.
func (s *IDSource) NewID(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}
