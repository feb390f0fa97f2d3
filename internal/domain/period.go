package domain

import (
	"fmt"
	"time"

	"github.com/aadvita/dues-engine/pkg/utils"
)

// Period is a civil (year, month) pair.
type Period struct {
	Year  int
	Month time.Month
}

func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// AddMonths moves the period by n months.
func (p Period) AddMonths(n int) Period {
	year, month := utils.AddMonths(p.Year, p.Month, n)
	return Period{Year: year, Month: month}
}

func (p Period) Before(other Period) bool {
	return p.index() < other.index()
}

func (p Period) After(other Period) bool {
	return p.index() > other.index()
}

// String formats the period as YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

func (p Period) index() int {
	return p.Year*12 + int(p.Month) - 1
}

// ParsePeriod reads the YYYY-MM form produced by String.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, err
	}
	return PeriodOf(t), nil
}
