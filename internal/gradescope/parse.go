package gradescope

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// The HTML document is untrusted, loosely structured input. Every extraction
// below returns a tagged (value, ok) result instead of panicking so callers
// can chain fallbacks (instructor view first, then student view).

var gradeCellPattern = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*/\s*([0-9]+(?:\.[0-9]+)?)`)

// datetimeLayouts covers the timestamp formats the site embeds in datetime
// attributes and in the instructor data blob.
var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseTimestamp(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range datetimeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return &ts
		}
	}
	return nil
}

// --- generic node helpers ---

func walk(n *html.Node, visit func(*html.Node) bool) {
	if n == nil {
		return
	}
	if !visit(n) {
		return
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		walk(child, visit)
	}
}

func attrVal(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attrVal(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func isElement(n *html.Node, names ...string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, name := range names {
		if n.Data == name {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(node *html.Node) bool {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		return true
	})
	return strings.Join(strings.Fields(sb.String()), " ")
}

func findFirst(n *html.Node, pred func(*html.Node) bool) *html.Node {
	var found *html.Node
	walk(n, func(node *html.Node) bool {
		if found != nil {
			return false
		}
		if pred(node) {
			found = node
			return false
		}
		return true
	})
	return found
}

// --- login page ---

// parseLoginToken pulls the hidden authenticity_token out of the login form.
func parseLoginToken(doc *html.Node) (string, bool) {
	input := findFirst(doc, func(n *html.Node) bool {
		return isElement(n, "input") && attrVal(n, "name") == "authenticity_token"
	})
	if input == nil {
		return "", false
	}
	token := attrVal(input, "value")
	return token, token != ""
}

// parseCSRFToken scrapes the csrf-token meta tag from an authenticated page.
func parseCSRFToken(doc *html.Node) (string, bool) {
	meta := findFirst(doc, func(n *html.Node) bool {
		return isElement(n, "meta") && attrVal(n, "name") == "csrf-token"
	})
	if meta == nil {
		return "", false
	}
	token := attrVal(meta, "content")
	return token, token != ""
}

// --- account page ---

// parseAccountCourses extracts the role-grouped course list from the account
// page. Role sections are located by heading text; when only a generic
// "Your Courses" heading exists, the role is decided by the presence of a
// create-course affordance. Reports ok=false when no course section is
// recognized at all.
func parseAccountCourses(doc *html.Node) (CourseGroups, bool) {
	groups := CourseGroups{
		Student:    make(map[string]Course),
		Instructor: make(map[string]Course),
	}

	const (
		roleNone = iota
		roleStudent
		roleInstructor
		roleGeneric
	)
	role := roleNone
	sectionSeen := false
	term, year := "", ""
	var generic []Course
	sawCreateAffordance := false

	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		switch {
		case isElement(n, "h1", "h2"):
			heading := textContent(n)
			switch {
			case strings.Contains(heading, "Instructor Courses"):
				role = roleInstructor
				sectionSeen = true
			case strings.Contains(heading, "Student Courses"):
				role = roleStudent
				sectionSeen = true
			case strings.Contains(heading, "Your Courses"):
				role = roleGeneric
				sectionSeen = true
			}
			return false
		case hasClass(n, "courseList--term"):
			term, year = splitTermYear(textContent(n))
			return false
		case hasClass(n, "courseBox-new") || hasClass(n, "courseBox--new"):
			sawCreateAffordance = true
			return false
		case isElement(n, "a") && hasClass(n, "courseBox"):
			course, ok := parseCourseBox(n, term, year)
			if !ok {
				return false
			}
			switch role {
			case roleStudent:
				groups.Student[course.ID] = course
			case roleInstructor:
				groups.Instructor[course.ID] = course
			case roleGeneric:
				generic = append(generic, course)
			}
			return false
		}
		return true
	})

	for _, course := range generic {
		if sawCreateAffordance {
			groups.Instructor[course.ID] = course
		} else {
			groups.Student[course.ID] = course
		}
	}

	return groups, sectionSeen
}

func parseCourseBox(n *html.Node, term, year string) (Course, bool) {
	href := attrVal(n, "href")
	id := courseIDFromHref(href)
	if id == "" {
		return Course{}, false
	}
	course := Course{ID: id, Term: term, Year: year}
	if short := findFirst(n, func(c *html.Node) bool { return hasClass(c, "courseBox--shortname") }); short != nil {
		course.Name = textContent(short)
	}
	if full := findFirst(n, func(c *html.Node) bool { return hasClass(c, "courseBox--name") }); full != nil {
		course.FullName = textContent(full)
	}
	if course.Name == "" {
		course.Name = textContent(n)
	}
	return course, true
}

func courseIDFromHref(href string) string {
	const marker = "/courses/"
	idx := strings.Index(href, marker)
	if idx < 0 {
		return ""
	}
	id := href[idx+len(marker):]
	if slash := strings.IndexByte(id, '/'); slash >= 0 {
		id = id[:slash]
	}
	if id == "" || strings.ContainsFunc(id, func(r rune) bool { return r < '0' || r > '9' }) {
		return ""
	}
	return id
}

// splitTermYear turns "Fall 2025" into ("Fall", "2025"); a heading without a
// trailing year is kept whole as the term.
func splitTermYear(s string) (string, string) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", ""
	}
	last := fields[len(fields)-1]
	if _, err := strconv.Atoi(last); err == nil && len(fields) > 1 {
		return strings.Join(fields[:len(fields)-1], " "), last
	}
	return s, ""
}

// --- course page, instructor view ---

// instructorTableProps mirrors the JSON blob embedded for the instructor
// assignments table. Unknown fields are ignored; missing fields reject the
// row rather than producing a half-parsed record.
type instructorTableProps struct {
	TableData []struct {
		ID               string `json:"id"`
		Title            string `json:"title"`
		TotalPoints      string `json:"total_points"`
		SubmissionWindow struct {
			ReleaseDate string `json:"release_date"`
			DueDate     string `json:"due_date"`
			HardDueDate string `json:"hard_due_date"`
		} `json:"submission_window"`
	} `json:"table_data"`
}

// parseInstructorAssignments extracts assignments from the instructor-view
// data blob. ok=false means the blob is absent or yields nothing, which
// triggers the student-view fallback.
func parseInstructorAssignments(doc *html.Node) ([]Assignment, bool) {
	blob := findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && attrVal(n, "data-react-class") == "AssignmentsTable"
	})
	if blob == nil {
		return nil, false
	}

	var props instructorTableProps
	if err := json.Unmarshal([]byte(attrVal(blob, "data-react-props")), &props); err != nil {
		return nil, false
	}

	assignments := make([]Assignment, 0, len(props.TableData))
	for _, row := range props.TableData {
		if row.Title == "" {
			continue
		}
		assignment := Assignment{
			ID:          strings.TrimPrefix(row.ID, "assignment_"),
			Name:        row.Title,
			ReleaseDate: parseTimestamp(row.SubmissionWindow.ReleaseDate),
			DueDate:     parseTimestamp(row.SubmissionWindow.DueDate),
			LateDueDate: parseTimestamp(row.SubmissionWindow.HardDueDate),
		}
		if pts, err := strconv.ParseFloat(strings.TrimSpace(row.TotalPoints), 64); err == nil {
			assignment.MaxGrade = &pts
		}
		assignments = append(assignments, assignment)
	}
	if len(assignments) == 0 {
		return nil, false
	}
	return assignments, true
}

// --- course page, student view ---

// parseStudentAssignments extracts assignments from the student-facing
// table: one row per assignment, a "X / Y" grade cell, and up to two
// datetime markers (first due date, second late due date).
func parseStudentAssignments(doc *html.Node) ([]Assignment, bool) {
	table := findFirst(doc, func(n *html.Node) bool { return isElement(n, "table") })
	if table == nil {
		return nil, false
	}

	var assignments []Assignment
	walk(table, func(n *html.Node) bool {
		if !isElement(n, "tr") {
			return true
		}
		if inSection(n, "thead") || inSection(n, "tfoot") {
			return false
		}
		if assignment, ok := parseStudentRow(n); ok {
			assignments = append(assignments, assignment)
		}
		return false
	})

	if len(assignments) == 0 {
		return nil, false
	}
	return assignments, true
}

func inSection(n *html.Node, section string) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if isElement(p, section) {
			return true
		}
		if isElement(p, "table") {
			return false
		}
	}
	return false
}

func parseStudentRow(row *html.Node) (Assignment, bool) {
	nameCell := findFirst(row, func(n *html.Node) bool { return isElement(n, "th", "td") })
	if nameCell == nil {
		return Assignment{}, false
	}
	name := textContent(nameCell)
	if name == "" {
		return Assignment{}, false
	}

	assignment := Assignment{Name: name}

	if match := gradeCellPattern.FindStringSubmatch(textContent(row)); match != nil {
		if grade, err := strconv.ParseFloat(match[1], 64); err == nil {
			assignment.Grade = &grade
		}
		if max, err := strconv.ParseFloat(match[2], 64); err == nil {
			assignment.MaxGrade = &max
		}
	}

	if status := findFirst(row, func(n *html.Node) bool { return hasClass(n, "submissionStatus--text") }); status != nil {
		assignment.SubmissionStatus = textContent(status)
	} else if assignment.Grade != nil {
		assignment.SubmissionStatus = "Submitted"
	}

	var marks []*time.Time
	walk(row, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			if raw := attrVal(n, "datetime"); raw != "" {
				marks = append(marks, parseTimestamp(raw))
			}
		}
		return true
	})
	if len(marks) > 0 {
		assignment.DueDate = marks[0]
	}
	if len(marks) > 1 {
		assignment.LateDueDate = marks[1]
	}

	return assignment, true
}

// --- assignment grade roster, instructor view ---

// parseSubmissions extracts the per-student rows of the review-grades table.
func parseSubmissions(doc *html.Node) ([]Submission, bool) {
	table := findFirst(doc, func(n *html.Node) bool { return isElement(n, "table") })
	if table == nil {
		return nil, false
	}

	var submissions []Submission
	walk(table, func(n *html.Node) bool {
		if !isElement(n, "tr") {
			return true
		}
		if inSection(n, "thead") || inSection(n, "tfoot") {
			return false
		}
		if submission, ok := parseSubmissionRow(n); ok {
			submissions = append(submissions, submission)
		}
		return false
	})

	if len(submissions) == 0 {
		return nil, false
	}
	return submissions, true
}

func parseSubmissionRow(row *html.Node) (Submission, bool) {
	var cells []*html.Node
	walk(row, func(n *html.Node) bool {
		if isElement(n, "th", "td") {
			cells = append(cells, n)
			return false
		}
		return true
	})
	if len(cells) == 0 {
		return Submission{}, false
	}

	submission := Submission{StudentName: textContent(cells[0])}
	if submission.StudentName == "" {
		return Submission{}, false
	}

	if link := findFirst(row, func(n *html.Node) bool {
		return isElement(n, "a") && strings.Contains(attrVal(n, "href"), "/submissions/")
	}); link != nil {
		href := attrVal(link, "href")
		submission.SubmissionID = href[strings.LastIndexByte(href, '/')+1:]
	}

	for _, cell := range cells[1:] {
		text := textContent(cell)
		if submission.StudentEmail == "" && strings.ContainsRune(text, '@') {
			submission.StudentEmail = text
			continue
		}
		if submission.Score == nil {
			if match := gradeCellPattern.FindStringSubmatch(text); match != nil {
				if score, err := strconv.ParseFloat(match[1], 64); err == nil {
					submission.Score = &score
				}
				if max, err := strconv.ParseFloat(match[2], 64); err == nil {
					submission.MaxScore = &max
				}
			}
		}
	}

	return submission, true
}
