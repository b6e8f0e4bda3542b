// Package eligibility decides whether a student's recorded grades satisfy a
// course's or job's stated minimums. All functions are pure and deterministic
// so callers can re-run them freely for live filtering.
package eligibility

import "strings"

// GradeEntry is a single recorded grade on a student profile. Entry order is
// significant: it is the tie-break when several entries match one requirement.
type GradeEntry struct {
	Subject string `json:"subject"`
	Grade   string `json:"grade"`
}

// GradeSet is the student's recorded grades in profile entry order.
type GradeSet []GradeEntry

// SubjectRequirement states the minimum letter grade for one subject.
type SubjectRequirement struct {
	Subject  string `json:"subject"`
	MinGrade string `json:"min_grade"`
}

// RequirementSet is the full subject gate of a course or job.
type RequirementSet []SubjectRequirement

// Result reports the verdict with enough detail for user-facing messaging.
type Result struct {
	Eligible        bool     `json:"eligible"`
	MissingSubjects []string `json:"missing_subjects,omitempty"`
	GPA             float64  `json:"gpa"`
	GPAShortfall    float64  `json:"gpa_shortfall,omitempty"`
}

// Letter ranks on the A-highest scale. Unknown letters rank below F.
var gradeRanks = map[string]int{
	"F": 0, "E": 1, "D": 2, "C": 3, "B": 4, "A": 5,
}

// Grade points for GPA on the 4.0 scale. E and F both carry zero.
var gradePoints = map[string]float64{
	"A": 4, "B": 3, "C": 2, "D": 1, "E": 0, "F": 0,
}

// ValidGrade reports whether the letter is on the accepted scale.
func ValidGrade(letter string) bool {
	_, ok := gradeRanks[normalizeGrade(letter)]
	return ok
}

// IsEligible applies the subject gate only: every requirement must be matched
// by a grade of at least the required rank.
//
// An empty requirement set is open to all. A non-empty requirement set with
// zero recorded grades fails closed.
func IsEligible(reqs RequirementSet, grades GradeSet) bool {
	return evaluateSubjects(reqs, grades).Eligible
}

// GPA is the arithmetic mean of grade points over all recorded grades.
// Returns 0 for an empty grade set.
func GPA(grades GradeSet) float64 {
	if len(grades) == 0 {
		return 0
	}
	total := 0.0
	for _, g := range grades {
		total += gradePoints[normalizeGrade(g.Grade)]
	}
	return total / float64(len(grades))
}

// Evaluate applies both gates: the subject requirements and, when minGPA is
// non-nil, the GPA floor. Both must pass.
func Evaluate(reqs RequirementSet, minGPA *float64, grades GradeSet) Result {
	result := evaluateSubjects(reqs, grades)
	result.GPA = GPA(grades)
	if minGPA != nil && result.GPA < *minGPA {
		result.Eligible = false
		result.GPAShortfall = *minGPA - result.GPA
	}
	return result
}

func evaluateSubjects(reqs RequirementSet, grades GradeSet) Result {
	if len(reqs) == 0 {
		return Result{Eligible: true}
	}
	if len(grades) == 0 {
		missing := make([]string, 0, len(reqs))
		for _, req := range reqs {
			missing = append(missing, req.Subject)
		}
		return Result{Eligible: false, MissingSubjects: missing}
	}

	var missing []string
	for _, req := range reqs {
		grade, ok := matchGrade(req.Subject, grades)
		if !ok {
			missing = append(missing, req.Subject)
			continue
		}
		if gradeRank(grade.Grade) < gradeRank(req.MinGrade) {
			missing = append(missing, req.Subject)
		}
	}
	return Result{Eligible: len(missing) == 0, MissingSubjects: missing}
}

// matchGrade finds the grade entry for a required subject. An exact
// normalized match wins; otherwise the first entry (in recorded order) whose
// normalized name contains, or is contained by, the requirement's name.
func matchGrade(subject string, grades GradeSet) (GradeEntry, bool) {
	want := normalizeSubject(subject)
	if want == "" {
		return GradeEntry{}, false
	}

	var fuzzy *GradeEntry
	for i := range grades {
		got := normalizeSubject(grades[i].Subject)
		if got == "" {
			continue
		}
		if got == want {
			return grades[i], true
		}
		if fuzzy == nil && (strings.Contains(got, want) || strings.Contains(want, got)) {
			fuzzy = &grades[i]
		}
	}
	if fuzzy != nil {
		return *fuzzy, true
	}
	return GradeEntry{}, false
}

func gradeRank(letter string) int {
	rank, ok := gradeRanks[normalizeGrade(letter)]
	if !ok {
		return -1
	}
	return rank
}

func normalizeGrade(letter string) string {
	return strings.ToUpper(strings.TrimSpace(letter))
}

func normalizeSubject(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
