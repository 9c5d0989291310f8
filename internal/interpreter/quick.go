package interpreter

import "regexp"

// Flow identifiers shared with the session router.
const (
	FlowCreate = "create_appointment"
	FlowCancel = "cancel_appointment"
	FlowMove   = "move_appointment"
	FlowShow   = "show_appointment"
	FlowText   = "text"
)

// Pattern order matters: "перенести запись" must win over the generic
// booking keywords.
var quickIntentPatterns = []struct {
	flow string
	re   *regexp.Regexp
}{
	{FlowMove, regexp.MustCompile(`(?i)перенести|перенос.*запис|изменить.*время|изменить.*дату`)},
	{FlowCancel, regexp.MustCompile(`(?i)отменить.*запис|отменить.*прием|удалить.*запис`)},
	{FlowShow, regexp.MustCompile(`(?i)какие.*прием|мои.*запис|покажи.*прием|покажи.*запис|посмотреть.*запис|расписание.*прием`)},
	{FlowCreate, regexp.MustCompile(`(?i)записаться|записать|запись|запиши|хочу.*прием|нужно.*прием|планирую.*визит|хочу.*к.*врач|нужно.*к.*врач|давайте.*запишемся`)},
}

// DetectQuickIntent routes obvious requests by keyword without a model
// call. Returns an empty string when no pattern matches.
func DetectQuickIntent(message string) string {
	for _, p := range quickIntentPatterns {
		if p.re.MatchString(message) {
			return p.flow
		}
	}
	return ""
}
