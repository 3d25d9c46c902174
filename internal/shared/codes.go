package shared

import (
	"fmt"
	"time"
)

// DocumentCode formats a human-readable document number such as
// SLE-20251124-00042 from a prefix, document date and row id.
func DocumentCode(prefix string, date time.Time, id int64) string {
	return fmt.Sprintf("%s-%s-%05d", prefix, date.Format("20060102"), id)
}
