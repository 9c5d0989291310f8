package scene

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const maxMonthsAhead = 12

var (
	affirmativeWords = map[string]bool{
		"да": true, "yes": true, "ок": true, "окей": true,
		"подтверждаю": true, "confirm": true, "подтвердить": true,
	}
	negativeWords = map[string]bool{
		"нет": true, "no": true, "cancel": true,
		"отмена": true, "заново": true, "отменить": true,
	}
)

// IsPositive reports whether the message is an affirmative reply.
func IsPositive(message string) bool {
	return affirmativeWords[strings.ToLower(strings.TrimSpace(message))]
}

// IsNegative reports whether the message is a negative reply.
func IsNegative(message string) bool {
	return negativeWords[strings.ToLower(strings.TrimSpace(message))]
}

// NormalizePhone brings a phone number to the +7XXXXXXXXXX form. Ten
// digits get the +7 prefix, eleven digits starting with 8 swap it for +7,
// anything else keeps its digits behind a plus. Returns false when the
// digit count is implausible.
func NormalizePhone(raw string) (string, bool) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) < 10 || len(d) > 15 {
		return "", false
	}
	switch {
	case len(d) == 10:
		return "+7" + d, true
	case len(d) == 11 && d[0] == '8':
		return "+7" + d[1:], true
	default:
		return "+" + d, true
	}
}

var dateRe = regexp.MustCompile(`^(\d{4})[-.](\d{2})[-.](\d{2})$`)

// NormalizeDate validates a visit date and returns it as "YYYY-MM-DD".
// The second return value is a user-facing error message, empty on
// success. Dates must be real, not in the past and at most a year ahead.
func NormalizeDate(raw string, now time.Time) (string, string) {
	const formatMessage = "Введите дату в формате ГГГГ-ММ-ДД (например, 2025-06-15)."

	m := dateRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", formatMessage
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])

	parsed := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if parsed.Year() != year || parsed.Month() != time.Month(month) || parsed.Day() != day {
		return "", formatMessage
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if parsed.Before(today) {
		return "", "Дата не должна быть в прошлом. Введите сегодняшнюю или будущую дату."
	}
	if parsed.After(today.AddDate(0, maxMonthsAhead, 0)) {
		return "", "Запись возможна не более чем на 12 месяцев вперёд. Выберите более близкую дату."
	}
	return parsed.Format("2006-01-02"), ""
}

var timeRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// NormalizeTime validates a visit time and returns it as "HH:MM". The
// second return value is a user-facing error message, empty on success.
// Appointments start between 08:00 and 19:59.
func NormalizeTime(raw string) (string, string) {
	const formatMessage = "Введите время в формате ЧЧ:ММ (например, 14:30). Приём возможен с 08:00 до 20:00."

	m := timeRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", formatMessage
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return "", formatMessage
	}
	if hour < 8 {
		return "", "Время приёма — с 08:00 до 20:00. Введите время не раньше 08:00."
	}
	if hour >= 20 {
		return "", "Время приёма — с 08:00 до 20:00. Введите время до 20:00."
	}
	return padTwo(hour) + ":" + padTwo(minute), ""
}

func padTwo(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

var visitTypeAliases = map[string]string{
	"1": "primary", "primary": "primary", "первичный": "primary", "первичныйприем": "primary",
	"2": "secondary", "secondary": "secondary", "вторичный": "secondary", "вторичныйприем": "secondary",
	"3": "vaccination", "vaccination": "vaccination", "прививка": "vaccination", "прививкаприем": "vaccination",
	"4": "ultrasound", "ultrasound": "ultrasound", "узи": "ultrasound", "ультразвук": "ultrasound", "ультразвуковое": "ultrasound",
	"5": "analyses", "analyses": "analyses", "анализы": "analyses", "анализ": "analyses", "анализкрови": "analyses",
	"6": "xray", "xray": "xray", "рентген": "xray", "рентгенография": "xray", "рентгеноскопия": "xray",
	"7": "other", "other": "other", "другое": "other", "другая": "other", "произвольная": "other",
	"произвольный": "other", "иное": "other", "своя": "other", "иная": "other",
}

// ResolveVisitType maps a number or free-form alias to a visit type key.
func ResolveVisitType(input string) (string, bool) {
	normalized := strings.ToLower(input)
	normalized = strings.Join(strings.Fields(normalized), "")
	t, ok := visitTypeAliases[normalized]
	return t, ok
}

// ParseIndex parses a one-based list selection, rejecting values outside
// [1, max].
func ParseIndex(message string, max int) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(message))
	if err != nil || n < 1 || n > max {
		return 0, false
	}
	return n, true
}
