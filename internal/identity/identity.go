// Package identity extracts Odoo record ids embedded in Clockify free-text fields.
package identity

import (
	"regexp"
	"strconv"
)

// The id must be the final token of the field. A digit run followed by
// anything else does not count as a match.
var (
	notePattern = regexp.MustCompile(`odoo_id=(\d+)$`)
	taskPattern = regexp.MustCompile(`#(\d+)$`)
)

// OdooIDFromNote parses an Odoo project id from a project note such as
// "odoo_id=857". The second return value reports whether the note matched.
func OdooIDFromNote(note string) (int, bool) {
	return parse(notePattern, note)
}

// OdooIDFromTask parses an Odoo task id from a task name suffix such as
// "Research / Zelfstudie #8494".
func OdooIDFromTask(name string) (int, bool) {
	return parse(taskPattern, name)
}

func parse(pattern *regexp.Regexp, s string) (int, bool) {
	match := pattern.FindStringSubmatch(s)
	if match == nil {
		return 0, false
	}
	id, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return id, true
}
