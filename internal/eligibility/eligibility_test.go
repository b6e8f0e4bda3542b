package eligibility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsEligibleEmptyRequirements(t *testing.T) {
	assert.True(t, IsEligible(nil, nil))
	assert.True(t, IsEligible(RequirementSet{}, GradeSet{{Subject: "Math", Grade: "F"}}))
}

func TestIsEligibleNoGradesFailsClosed(t *testing.T) {
	reqs := RequirementSet{{Subject: "Mathematics", MinGrade: "C"}}
	assert.False(t, IsEligible(reqs, nil))
	assert.False(t, IsEligible(reqs, GradeSet{}))
}

func TestIsEligibleGradeRanks(t *testing.T) {
	// Mathematics:A passes B, English:D fails C (rank 2 < 3).
	reqs := RequirementSet{
		{Subject: "Mathematics", MinGrade: "B"},
		{Subject: "English", MinGrade: "C"},
	}
	grades := GradeSet{
		{Subject: "Mathematics", Grade: "A"},
		{Subject: "English", Grade: "D"},
	}
	result := evaluateSubjects(reqs, grades)
	assert.False(t, result.Eligible)
	assert.Equal(t, []string{"English"}, result.MissingSubjects)

	grades[1].Grade = "C"
	assert.True(t, IsEligible(reqs, grades))
}

func TestIsEligibleMissingSubject(t *testing.T) {
	reqs := RequirementSet{{Subject: "Physics", MinGrade: "D"}}
	grades := GradeSet{{Subject: "Chemistry", Grade: "A"}}
	assert.False(t, IsEligible(reqs, grades))
}

func TestSubjectMatchingIsNormalizedAndFuzzy(t *testing.T) {
	reqs := RequirementSet{{Subject: "  math ", MinGrade: "B"}}
	grades := GradeSet{{Subject: "Mathematics", Grade: "A"}}
	assert.True(t, IsEligible(reqs, grades))

	reqs = RequirementSet{{Subject: "Mathematics", MinGrade: "B"}}
	grades = GradeSet{{Subject: "MATH", Grade: "B"}}
	assert.True(t, IsEligible(reqs, grades))
}

func TestSubjectMatchingPrefersExactOverFuzzy(t *testing.T) {
	// "Math" fuzzily matches "Further Mathematics" first in entry order, but
	// the exact "Math" entry must win.
	grades := GradeSet{
		{Subject: "Further Mathematics", Grade: "F"},
		{Subject: "Math", Grade: "A"},
	}
	entry, ok := matchGrade("math", grades)
	require.True(t, ok)
	assert.Equal(t, "A", entry.Grade)
}

func TestSubjectMatchingFirstFuzzyWins(t *testing.T) {
	grades := GradeSet{
		{Subject: "Applied Mathematics", Grade: "C"},
		{Subject: "Pure Mathematics", Grade: "A"},
	}
	entry, ok := matchGrade("mathematics", grades)
	require.True(t, ok)
	assert.Equal(t, "Applied Mathematics", entry.Subject)
	assert.Equal(t, "C", entry.Grade)
}

func TestGPA(t *testing.T) {
	assert.Zero(t, GPA(nil))

	grades := GradeSet{
		{Subject: "Math", Grade: "A"},
		{Subject: "English", Grade: "C"},
	}
	assert.InDelta(t, 3.0, GPA(grades), 0.0001)

	// E and F both carry zero points.
	grades = append(grades, GradeEntry{Subject: "History", Grade: "E"}, GradeEntry{Subject: "Art", Grade: "F"})
	assert.InDelta(t, 1.5, GPA(grades), 0.0001)
}

func TestEvaluateBothGatesMustPass(t *testing.T) {
	minGPA := 3.5
	reqs := RequirementSet{{Subject: "Math", MinGrade: "C"}}
	grades := GradeSet{
		{Subject: "Math", Grade: "B"},
		{Subject: "English", Grade: "C"},
	}

	result := Evaluate(reqs, &minGPA, grades)
	assert.False(t, result.Eligible)
	assert.Empty(t, result.MissingSubjects)
	assert.InDelta(t, 2.5, result.GPA, 0.0001)
	assert.InDelta(t, 1.0, result.GPAShortfall, 0.0001)

	result = Evaluate(reqs, nil, grades)
	assert.True(t, result.Eligible)
}

func TestEvaluateNoRequirementsNoMinGPA(t *testing.T) {
	// A student with zero recorded grades is still eligible for an open course.
	result := Evaluate(nil, nil, nil)
	assert.True(t, result.Eligible)
}

func TestDeterminism(t *testing.T) {
	reqs := RequirementSet{{Subject: "Math", MinGrade: "B"}, {Subject: "English", MinGrade: "C"}}
	grades := GradeSet{{Subject: "Mathematics", Grade: "B"}, {Subject: "English Language", Grade: "C"}}
	first := IsEligible(reqs, grades)
	for i := 0; i < 50; i++ {
		require.Equal(t, first, IsEligible(reqs, grades))
	}
}

func TestValidGrade(t *testing.T) {
	assert.True(t, ValidGrade("a"))
	assert.True(t, ValidGrade(" F "))
	assert.False(t, ValidGrade("G"))
	assert.False(t, ValidGrade(""))
}
