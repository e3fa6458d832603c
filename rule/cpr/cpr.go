// Package cpr scores the plausibility of Danish CPR numbers. A CPR number
// encodes a birth date in its first six digits and a sequence number in the
// last four; the final digit doubles as a modulus-11 check digit except for
// a small set of historical dates where the check was suspended.
package cpr

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/c360/scanstreams/pkg/cache"
)

// Rejection reasons for numbers that cannot be CPR numbers at all
var (
	ErrTooShort    = stderrors.New("CPR too short")
	ErrTooLong     = stderrors.New("CPR too long")
	ErrNotDigits   = stderrors.New("CPR can only contain digits")
	ErrIllegalDate = stderrors.New("Illegal date")
	ErrFuture      = stderrors.New("CPR newer than today")
	ErrModulus11   = stderrors.New("Modulus 11 does not match")
)

// Dates whose CPR numbers violate the modulus-11 check. Synchronised with
// the CPR Office's published list.
var exceptionDates = map[string]bool{
	"1960-01-01": true,
	"1964-01-01": true,
	"1965-01-01": true,
	"1966-01-01": true,
	"1969-01-01": true,
	"1970-01-01": true,
	"1974-01-01": true,
	"1980-01-01": true,
	"1982-01-01": true,
	"1984-01-01": true,
	"1985-01-01": true,
	"1986-01-01": true,
	"1987-01-01": true,
	"1988-01-01": true,
	"1989-01-01": true,
	"1990-01-01": true,
	"1991-01-01": true,
	"1992-01-01": true,
	"1995-01-01": true,
}

var mod11Table = [10]int{4, 3, 2, 7, 6, 5, 4, 3, 2, 1}

// modulus11 performs the raw check without exception-date handling
func modulus11(cpr string) bool {
	sum := 0
	for i := 0; i < 10; i++ {
		sum += int(cpr[i]-'0') * mod11Table[i]
	}
	return sum%11 == 0
}

// birthDate resolves the two-digit year through the seventh digit, which
// selects the century.
func birthDate(cpr string) (time.Time, error) {
	day := int(cpr[0]-'0')*10 + int(cpr[1]-'0')
	month := int(cpr[2]-'0')*10 + int(cpr[3]-'0')
	year := int(cpr[4]-'0')*10 + int(cpr[5]-'0')

	switch check := int(cpr[6] - '0'); {
	case check <= 3:
		year += 1900
	case check == 4:
		if year > 36 {
			year += 1900
		} else {
			year += 2000
		}
	case check <= 8:
		if year > 57 {
			year += 1800
		} else {
			year += 2000
		}
	default:
		if year > 37 {
			year += 1900
		} else {
			year += 2000
		}
	}

	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if date.Year() != year || date.Month() != time.Month(month) || date.Day() != day {
		return time.Time{}, ErrIllegalDate
	}
	return date, nil
}

// legalSevens returns the possible values of CPR digit 7 for a birth year
func legalSevens(year int) []int {
	switch {
	case year >= 1858 && year <= 1899:
		return []int{5, 6, 7, 8}
	case year >= 1900 && year <= 1936:
		return []int{0, 1, 2, 3}
	case year >= 1937 && year <= 1999:
		return []int{0, 1, 2, 3, 4, 9}
	case year >= 2000 && year <= 2036:
		return []int{4, 5, 6, 7, 8, 9}
	case year >= 2037 && year <= 2057:
		return []int{5, 6, 7, 8}
	}
	return nil
}

// Calculator scores CPR candidates. The per-date enumeration of legal
// numbers is memoized in an LRU cache, so scoring many candidates from the
// same document stays cheap.
type Calculator struct {
	cache *cache.LRU[[]string]
}

// NewCalculator creates a Calculator with a bounded enumeration cache
func NewCalculator() *Calculator {
	return &Calculator{cache: cache.NewLRU[[]string](256)}
}

// legalNumbers enumerates every modulus-11-valid CPR for a birth date in
// increasing issuance order.
func (c *Calculator) legalNumbers(date time.Time) []string {
	key := date.Format("2006-01-02")
	return c.cache.GetOrCompute(key, func() []string {
		prefix := date.Format("020106")
		var legal []string
		for _, seven := range legalSevens(date.Year()) {
			for i := 0; i < 1000; i++ {
				candidate := fmt.Sprintf("%s%d%03d", prefix, seven, i)
				if modulus11(candidate) {
					legal = append(legal, candidate)
				}
			}
		}
		return legal
	})
}

// Check evaluates whether a candidate is likely to be a CPR number in use.
// Numbers that cannot be CPRs at all return an error naming the reason.
// Syntactically valid numbers score by their position in the date's legal
// issuance order: the later a number appears, the less likely it is to have
// been issued. Numbers on exception dates always score 0.5.
func (c *Calculator) Check(cpr string, today time.Time) (float64, error) {
	if len(cpr) < 10 {
		return 0, ErrTooShort
	}
	if len(cpr) > 10 {
		return 0, ErrTooLong
	}
	for i := 0; i < 10; i++ {
		if cpr[i] < '0' || cpr[i] > '9' {
			return 0, ErrNotDigits
		}
	}

	date, err := birthDate(cpr)
	if err != nil {
		return 0, err
	}
	if date.After(today) {
		return 0, ErrFuture
	}

	if !modulus11(cpr) {
		if exceptionDates[date.Format("2006-01-02")] {
			return 0.5, nil
		}
		return 0, ErrModulus11
	}

	rank := -1
	for i, legal := range c.legalNumbers(date) {
		if legal == cpr {
			rank = i
			break
		}
	}
	if rank < 0 {
		// Digit 7 is outside the legal range for the birth year
		return 0, ErrModulus11
	}

	switch {
	case rank <= 100:
		return 1.0, nil
	case rank <= 200:
		return 0.8, nil
	case rank <= 250:
		return 0.6, nil
	case rank <= 350:
		return 0.25, nil
	default:
		return 0.1, nil
	}
}
