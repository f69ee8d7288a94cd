package erp

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/tidemark/pkg/errors"
)

// Period is an accounting year-month, written YYYYMM.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod parses a YYYYMM token.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("200601", s)
	if err != nil || len(s) != 6 {
		return Period{}, errors.Newf(errors.ErrorTypeValidation, "invalid period %q", s)
	}
	return PeriodOf(t), nil
}

func (p Period) String() string {
	return fmt.Sprintf("%04d%02d", p.Year, int(p.Month))
}

// Prev returns the period of the day before p's first day.
func (p Period) Prev() Period {
	first := time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
	return PeriodOf(first.AddDate(0, 0, -1))
}

// Before reports whether p is earlier than o.
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}
