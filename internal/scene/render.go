package scene

import (
	"strconv"
	"time"
)

var (
	shortDayNames   = [...]string{"Вс", "Пн", "Вт", "Ср", "Чт", "Пт", "Сб"}
	shortMonthNames = [...]string{"янв", "фев", "мар", "апр", "май", "июн", "июл", "авг", "сен", "окт", "ноя", "дек"}
)

// FormatDateDisplay renders a "YYYY-MM-DD" date for chat messages:
// "Сегодня", "Завтра" or a short "Чт, 10 сен" form. Unparseable input is
// returned as is.
func FormatDateDisplay(date string, now time.Time) string {
	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch parsed.Sub(today) / (24 * time.Hour) {
	case 0:
		return "Сегодня"
	case 1:
		return "Завтра"
	}
	return shortDayNames[parsed.Weekday()] + ", " +
		strconv.Itoa(parsed.Day()) + " " + shortMonthNames[parsed.Month()-1]
}

// FormatAdmissionWhen splits a CRM "YYYY-MM-DD HH:MM:SS" stamp into its
// date and "HH:MM" parts for display.
func FormatAdmissionWhen(stamp string) (date, timeOfDay string) {
	if len(stamp) >= 16 {
		return stamp[:10], stamp[11:16]
	}
	if len(stamp) >= 10 {
		return stamp[:10], ""
	}
	return stamp, ""
}
