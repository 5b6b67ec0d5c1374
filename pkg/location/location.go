// Package location turns free-text location labels into canonical,
// sequentially numbered location ids ("Oficina" -> "OFICINA01").
package location

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"asset-census-api/pkg/inventory"
)

// SuffixWidth is the minimum number of digits in an issued suffix.
const SuffixWidth = 2

var trailingDigits = regexp.MustCompile(`\s*\d+$`)

// Normalize returns the canonical base of a location label: one trailing run
// of digits (and the whitespace before it) is stripped, internal whitespace
// is collapsed and the result is upper-cased.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = trailingDigits.ReplaceAllString(s, "")
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// Format builds the location id for base with suffix n.
func Format(base string, n int) string {
	return fmt.Sprintf("%s%0*d", base, SuffixWidth, n)
}

// Count reduces the users' location lists into a counter map. The result does
// not depend on the order of users or of their locations.
func Count(users []*inventory.User) inventory.LocationCounter {
	counter := make(inventory.LocationCounter)
	for _, u := range users {
		for _, loc := range u.Locations {
			base := Normalize(loc)
			if base == "" {
				continue
			}
			counter[base]++
		}
	}
	return counter
}

// Allocator issues location ids against the counter held in a session.
type Allocator struct {
	session *inventory.Session
}

// NewAllocator returns an allocator bound to s.
func NewAllocator(s *inventory.Session) *Allocator {
	if s.Counter == nil {
		s.Counter = make(inventory.LocationCounter)
	}
	return &Allocator{session: s}
}

// NextID issues the next id under base and advances the counter. base must
// already be canonical (see Normalize). If the computed id is already held by
// a user, the next free suffix is issued instead.
func (a *Allocator) NextID(base string) string {
	n := a.next(base)
	a.session.Counter[base]++
	return Format(base, n)
}

// Peek returns the id NextID would issue, without advancing the counter.
func (a *Allocator) Peek(base string) string {
	return Format(base, a.next(base))
}

// Allocate normalizes a raw label and issues an id for it.
func (a *Allocator) Allocate(raw string) (string, error) {
	base := Normalize(raw)
	if base == "" {
		return "", fmt.Errorf("location %q has no name part", raw)
	}
	return a.NextID(base), nil
}

// Recompute rebuilds the counter from every user's location list and swaps
// it in. It is the recovery path for counters that drifted from reality.
func (a *Allocator) Recompute() {
	users := make([]*inventory.User, 0, len(a.session.Users))
	for _, u := range a.session.Users {
		users = append(users, u)
	}
	a.session.Counter = Count(users)
}

// Counts returns a copy of the current counter map.
func (a *Allocator) Counts() inventory.LocationCounter {
	return a.session.Counter.Clone()
}

func (a *Allocator) next(base string) int {
	taken := a.taken(base)
	n := a.session.Counter[base] + 1
	for taken[n] {
		n++
	}
	return n
}

// taken collects the suffixes under base already held by users.
func (a *Allocator) taken(base string) map[int]bool {
	out := make(map[int]bool)
	for _, u := range a.session.Users {
		for _, loc := range u.Locations {
			b, n, ok := Split(loc)
			if ok && b == base {
				out[n] = true
			}
		}
	}
	return out
}

// Split breaks a location id into its canonical base and numeric suffix. ok
// is false when the label has no trailing digits.
func Split(loc string) (base string, n int, ok bool) {
	s := strings.TrimSpace(loc)
	m := trailingDigits.FindString(s)
	if m == "" {
		return Normalize(s), 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(m))
	if err != nil {
		return Normalize(s), 0, false
	}
	return Normalize(s), n, true
}
