package sessions

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"trade-journal-go/internal/models"
)

// ErrOutsideSession is returned when a timestamp falls outside every session
// of the instrument's calendar.
var ErrOutsideSession = errors.New("outside trading session")

// Kind selects the exchange calendar for an instrument.
type Kind string

const (
	KindFutures  Kind = "futures"  // CME Globex overnight session
	KindEquities Kind = "equities" // US regular trading hours
	KindCrypto   Kind = "crypto"   // 24h, UTC day
)

// Session is one contiguous trading window. TradingDay is the exchange date the
// session settles on.
type Session struct {
	Kind       Kind      `json:"kind"`
	TradingDay string    `json:"trading_day"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// Contains reports whether t lies in [Start, End).
func (s Session) Contains(t time.Time) bool {
	return !t.Before(s.Start) && t.Before(s.End)
}

// Minutes after midnight, exchange time.
const (
	futuresOpen   = 18 * 60
	futuresClose  = 17 * 60
	equitiesOpen  = 9*60 + 30
	equitiesClose = 16 * 60
)

var cryptoQuotes = []string{"USDT", "USDC", "USD", "BTC", "ETH"}

// KindFor picks a calendar from the symbol: known futures roots trade on the
// Globex calendar, crypto pairs around the clock, everything else as equities.
func KindFor(symbol string) Kind {
	if models.IsFutures(symbol) {
		return KindFutures
	}
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, q := range cryptoQuotes {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return KindCrypto
		}
	}
	return KindEquities
}

// Calendar resolves sessions in exchange time (America/New_York).
type Calendar struct {
	exchange *time.Location
	holidays map[string]bool
}

// NewCalendar creates a calendar. If the tz database is unavailable the
// exchange zone falls back to a fixed UTC-5 offset.
func NewCalendar() *Calendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*60*60)
	}
	return &Calendar{exchange: loc, holidays: make(map[string]bool)}
}

// Exchange returns the exchange timezone.
func (c *Calendar) Exchange() *time.Location {
	return c.exchange
}

// AddHoliday closes futures and equities sessions settling on date (YYYY-MM-DD).
func (c *Calendar) AddHoliday(date string) {
	c.holidays[date] = true
}

func (c *Calendar) isTradingDay(day time.Time) bool {
	if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		return false
	}
	return !c.holidays[day.Format(models.DateLayout)]
}

func (c *Calendar) at(day time.Time, minutes int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, c.exchange)
}

// SessionAt returns the session of the given kind containing t.
func (c *Calendar) SessionAt(kind Kind, t time.Time) (Session, error) {
	switch kind {
	case KindCrypto:
		u := t.UTC()
		day := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
		return Session{Kind: kind, TradingDay: day.Format(models.DateLayout), Start: day, End: day.AddDate(0, 0, 1)}, nil

	case KindFutures:
		local := t.In(c.exchange)
		minutes := local.Hour()*60 + local.Minute()
		day := local
		if minutes >= futuresOpen {
			day = local.AddDate(0, 0, 1)
		} else if minutes >= futuresClose {
			return Session{}, fmt.Errorf("%w: %s is in the daily futures break", ErrOutsideSession, local.Format(time.RFC3339))
		}
		s, err := c.futuresSession(day)
		if err != nil {
			return Session{}, fmt.Errorf("%w: %s", err, local.Format(time.RFC3339))
		}
		return s, nil

	case KindEquities:
		local := t.In(c.exchange)
		s, err := c.equitiesSession(local)
		if err != nil {
			return Session{}, fmt.Errorf("%w: %s", err, local.Format(time.RFC3339))
		}
		if !s.Contains(t) {
			return Session{}, fmt.Errorf("%w: %s is outside regular hours", ErrOutsideSession, local.Format(time.RFC3339))
		}
		return s, nil
	}
	return Session{}, fmt.Errorf("unknown session kind %q", kind)
}

// SessionOn returns the session settling on date (YYYY-MM-DD). For futures that
// session opens the evening before.
func (c *Calendar) SessionOn(kind Kind, date string) (Session, error) {
	day, err := time.ParseInLocation(models.DateLayout, date, c.exchange)
	if err != nil {
		return Session{}, fmt.Errorf("parse session date %q: %w", date, err)
	}
	switch kind {
	case KindCrypto:
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		return Session{Kind: kind, TradingDay: date, Start: start, End: start.AddDate(0, 0, 1)}, nil
	case KindFutures:
		return c.futuresSession(day)
	case KindEquities:
		return c.equitiesSession(day)
	}
	return Session{}, fmt.Errorf("unknown session kind %q", kind)
}

func (c *Calendar) futuresSession(day time.Time) (Session, error) {
	if !c.isTradingDay(day) {
		return Session{}, fmt.Errorf("%w: no futures session settles on %s", ErrOutsideSession, day.Format(models.DateLayout))
	}
	return Session{
		Kind:       KindFutures,
		TradingDay: day.Format(models.DateLayout),
		Start:      c.at(day.AddDate(0, 0, -1), futuresOpen),
		End:        c.at(day, futuresClose),
	}, nil
}

func (c *Calendar) equitiesSession(day time.Time) (Session, error) {
	if !c.isTradingDay(day) {
		return Session{}, fmt.Errorf("%w: no equities session on %s", ErrOutsideSession, day.Format(models.DateLayout))
	}
	return Session{
		Kind:       KindEquities,
		TradingDay: day.Format(models.DateLayout),
		Start:      c.at(day, equitiesOpen),
		End:        c.at(day, equitiesClose),
	}, nil
}

var offsetPattern = regexp.MustCompile(`^(?:UTC|GMT)?([+-])(\d{1,2})(?::?(\d{2}))?$`)

// ParseLocation accepts an IANA zone name or a fixed offset such as
// "UTC+05:30", "UTC-4" or "+0200". An empty name is UTC.
func ParseLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	switch strings.ToUpper(name) {
	case "", "UTC", "GMT", "Z":
		return time.UTC, nil
	}
	if m := offsetPattern.FindStringSubmatch(strings.ToUpper(name)); m != nil {
		hours, _ := strconv.Atoi(m[2])
		minutes := 0
		if m[3] != "" {
			minutes, _ = strconv.Atoi(m[3])
		}
		if hours > 14 || minutes > 59 {
			return nil, fmt.Errorf("invalid utc offset %q", name)
		}
		offset := hours*3600 + minutes*60
		if m[1] == "-" {
			offset = -offset
		}
		return time.FixedZone("UTC"+m[1]+fmt.Sprintf("%02d:%02d", hours, minutes), offset), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	return loc, nil
}
