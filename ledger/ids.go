package ledger

import (
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

func newID() string { return uuid.NewString() }

// ReceiptNumber renders BUY-/SELL- followed by the base36 unix-millisecond
// timestamp.
func ReceiptNumber(kind TransactionType, at time.Time) string {
	return strings.ToUpper(string(kind)) + "-" + strings.ToUpper(strconv.FormatInt(at.UnixMilli(), 36))
}

// NewBatchID renders BATCH-{base36 unix-ms}-{random base36 suffix}.
func NewBatchID(at time.Time) BatchID {
	suffix := strconv.FormatInt(rand.Int63n(36*36*36*36*36), 36)
	for len(suffix) < 5 {
		suffix = "0" + suffix
	}
	return BatchID(strings.ToUpper("BATCH-" + strconv.FormatInt(at.UnixMilli(), 36) + "-" + suffix))
}
